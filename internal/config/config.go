package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dbwinlog/internal/dbwin"
)

// Config holds application configuration.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// CaptureConfig configures the DBWIN reader.
type CaptureConfig struct {
	Scope         string        `mapstructure:"scope"`
	Dir           string        `mapstructure:"dir"`
	AutoNewline   bool          `mapstructure:"auto_newline"`
	MaxLineLength int           `mapstructure:"max_line_length"`
	HandleTimeout time.Duration `mapstructure:"handle_timeout"`
	FlushSentinel string        `mapstructure:"flush_sentinel"`
	PumpInterval  time.Duration `mapstructure:"pump_interval"`
}

// OutputConfig selects where captured lines go.
type OutputConfig struct {
	LogFile string `mapstructure:"log_file"`
	DB      string `mapstructure:"db"`
	Quiet   bool   `mapstructure:"quiet"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"global":          "capture.scope",
	"dir":             "capture.dir",
	"auto-newline":    "capture.auto_newline",
	"max-line-length": "capture.max_line_length",
	"handle-timeout":  "capture.handle_timeout",
	"flush-sentinel":  "capture.flush_sentinel",
	"log-file":        "output.log_file",
	"db":              "output.db",
	"quiet":           "output.quiet",
	"metrics-addr":    "metrics.addr",
	"log-level":       "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.scope", dbwin.ScopeLocal.String())
	v.SetDefault("capture.dir", "")
	v.SetDefault("capture.auto_newline", false)
	v.SetDefault("capture.max_line_length", dbwin.DefaultMaxLineLength)
	v.SetDefault("capture.handle_timeout", dbwin.DefaultHandleTimeout)
	v.SetDefault("capture.flush_sentinel", dbwin.DefaultFlushSentinel)
	v.SetDefault("capture.pump_interval", 100*time.Millisecond)
	v.SetDefault("output.log_file", "")
	v.SetDefault("output.db", "")
	v.SetDefault("output.quiet", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from defaults, the config file, env and flags,
// in increasing priority. Env var overrides use prefix DBWINLOG_.
//
// path selects the config file. If empty, DBWINLOG_CONFIG is used, then
// config.toml in ~/.config/dbwinlog; a missing default file is not an error.
// Only flags that were set on the command line override other sources.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path == "" {
		path = os.Getenv("DBWINLOG_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "dbwinlog"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("DBWINLOG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		// --global is a switch for a string setting.
		if name == "global" {
			global, err := flags.GetBool(name)
			if err != nil {
				return err
			}
			if global {
				v.Set(key, dbwin.ScopeGlobal.String())
			} else {
				v.Set(key, dbwin.ScopeLocal.String())
			}
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks values that viper cannot.
func (c Config) Validate() error {
	if _, err := dbwin.ParseScope(c.Capture.Scope); err != nil {
		return err
	}
	if c.Capture.MaxLineLength <= 0 {
		return fmt.Errorf("capture.max_line_length must be positive, got %d", c.Capture.MaxLineLength)
	}
	if c.Capture.HandleTimeout <= 0 {
		return fmt.Errorf("capture.handle_timeout must be positive, got %v", c.Capture.HandleTimeout)
	}
	if c.Capture.PumpInterval <= 0 {
		return fmt.Errorf("capture.pump_interval must be positive, got %v", c.Capture.PumpInterval)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ScopeValue returns the parsed capture scope.
func (c CaptureConfig) ScopeValue() dbwin.Scope {
	s, _ := dbwin.ParseScope(c.Scope)
	return s
}

// ReaderOptions returns the reader options for this configuration.
func (c CaptureConfig) ReaderOptions() dbwin.Options {
	return dbwin.Options{
		Scope:         c.ScopeValue(),
		Dir:           c.Dir,
		AutoNewline:   c.AutoNewline,
		MaxLineLength: c.MaxLineLength,
		FlushSentinel: c.FlushSentinel,
		HandleTimeout: c.HandleTimeout,
	}
}
