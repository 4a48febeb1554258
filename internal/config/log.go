package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// SlogLevel parses the configured level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Level)
	}
	return level, nil
}
