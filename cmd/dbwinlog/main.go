package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dbwinlog/internal/capture"
	"dbwinlog/internal/config"
	"dbwinlog/internal/dbwin"
	"dbwinlog/internal/sink"
	"dbwinlog/pkg/linelog"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configPath string
	logLevel   string

	global bool
	dir    string

	// cfg is loaded once per invocation before any command runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dbwinlog",
	Short: "dbwinlog - Debug output capture",
	Long:  `dbwinlog captures the debug output (OutputDebugString) of all processes on a host and turns it into attributed lines.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig loads cfg and installs the default slog logger on stderr.
func loadConfig(cmd *cobra.Command) error {
	var err error
	if cfg, err = config.Load(configPath, cmd.Flags()); err != nil {
		return err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture debug output until interrupted",
	Long: `Bind to the DBWIN channel and print every debug output line together with the
PID and name of the process that wrote it.

Only one reader can be bound to a channel at a time. Lines can additionally
be written to a line log file (--log-file) and a SQLite database (--db).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return capture.Run(ctx, cfg, os.Stdout)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Write debug output",
	Long: `Write the arguments, joined by spaces, as one debug output message. Without
arguments every line read from stdin is sent as its own message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := dbwin.ScopeLocal
		if global {
			scope = dbwin.ScopeGlobal
		}

		if len(args) > 0 {
			return send(scope, strings.Join(args, " ")+"\n")
		}

		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Reading messages from stdin, one per line. End with Ctrl-D.")
		}
		return sendLines(scope, os.Stdin)
	},
}

func send(scope dbwin.Scope, msg string) error {
	err := dbwin.Send(scope, dir, msg)
	if errors.Is(err, dbwin.ErrNoReader) {
		return fmt.Errorf("no reader is capturing %s debug output", scope)
	}
	return err
}

func sendLines(scope dbwin.Scope, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, dbwin.BufferSize), 1<<20)
	for scanner.Scan() {
		if err := send(scope, scanner.Text()+"\n"); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	return nil
}

var replayDB string

var replayCmd = &cobra.Command{
	Use:   "replay [FILE]",
	Short: "Print captured lines",
	Long: `Print the lines of a line log file written by 'capture --log-file'.

With --db the lines of the last session stored in the database are printed
instead, or of the session given as argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console := sink.NewConsole(os.Stdout)

		if replayDB != "" {
			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			return replaySession(console, replayDB, session)
		}

		if len(args) != 1 {
			return fmt.Errorf("missing line log file")
		}
		return replayFile(console, args[0])
	},
}

func replayFile(console dbwin.Sink, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for rec := range linelog.NewReader(f).Channel() {
		if rec.Error != nil {
			return fmt.Errorf("%s: %w", path, rec.Error)
		}
		if err := console.Accept([]dbwin.Line{sink.FromRecord(rec)}); err != nil {
			return err
		}
	}
	return nil
}

func replaySession(console dbwin.Sink, path, session string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sink.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if session == "" {
		if session, err = db.LastSession(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	lines, err := db.Lines(session)
	if err != nil {
		return err
	}
	return console.Accept(lines)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $DBWINLOG_CONFIG or ~/.config/dbwinlog/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Diagnostic log level: debug, info, warn or error")

	captureCmd.Flags().BoolVar(&global, "global", false, "Capture the host-wide channel instead of the session channel")
	captureCmd.Flags().StringVar(&dir, "dir", "", "Channel directory on Unix hosts (default: $TMPDIR/dbwin-$UID, or /dev/shm/dbwin with --global)")
	captureCmd.Flags().Bool("auto-newline", false, "End a line at the end of every message")
	captureCmd.Flags().Int("max-line-length", dbwin.DefaultMaxLineLength, "Emit partial lines once they reach this many bytes")
	captureCmd.Flags().Duration("handle-timeout", dbwin.DefaultHandleTimeout, "Flush partial lines of processes silent for this long")
	captureCmd.Flags().String("flush-sentinel", dbwin.DefaultFlushSentinel, "Process name shown for flushed partial lines")
	captureCmd.Flags().String("log-file", "", "Append lines to this line log file")
	captureCmd.Flags().String("db", "", "Store lines in this SQLite database")
	captureCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, for example :9100")
	captureCmd.Flags().BoolP("quiet", "q", false, "Do not print lines to stdout")

	sendCmd.Flags().BoolVar(&global, "global", false, "Write to the host-wide channel")
	sendCmd.Flags().StringVar(&dir, "dir", "", "Channel directory on Unix hosts")

	replayCmd.Flags().StringVar(&replayDB, "db", "", "Read from this SQLite database instead of a line log file")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
