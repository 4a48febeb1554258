package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"dbwinlog/internal/dbwin"
)

const (
	colorReset  = "\x1b[0m"
	colorDim    = "\x1b[2m"
	colorCyan   = "\x1b[36m"
	colorYellow = "\x1b[33m"
)

// Console prints lines in a human readable form:
//
//	[   1.234] 4242 app.exe: text
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	color    bool
	sentinel string
}

// NewConsole creates a console sink. Colors are used when w is a terminal.
func NewConsole(w io.Writer) *Console {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Console{w: w, color: color, sentinel: dbwin.DefaultFlushSentinel}
}

// SetColor forces colored output on or off.
func (c *Console) SetColor(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.color = v
}

// SetSentinel sets the process name highlighted as a forced flush.
func (c *Console) SetSentinel(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentinel = s
}

func (c *Console) Accept(lines []dbwin.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf []byte
	for _, l := range lines {
		buf = c.appendLine(buf, l)
	}
	_, err := c.w.Write(buf)
	return err
}

func (c *Console) appendLine(buf []byte, l dbwin.Line) []byte {
	process := l.Process
	if process == "" {
		process = "?"
	}
	if !c.color {
		return fmt.Appendf(buf, "[%8.3f] %d %s: %s\n", l.Time.Seconds(), l.PID, process, l.Text)
	}

	processColor := colorCyan
	if l.Process == c.sentinel {
		processColor = colorYellow
	}
	return fmt.Appendf(buf, "%s[%8.3f]%s %d %s%s%s: %s\n",
		colorDim, l.Time.Seconds(), colorReset,
		l.PID,
		processColor, process, colorReset,
		l.Text)
}
