package main

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed dbwinlog.service
var systemdService string

var (
	serviceUser        string
	serviceBinary      string
	serviceLogFile     string
	serviceDB          string
	serviceMetricsAddr string
)

var serviceCmd = &cobra.Command{
	Use:   "service-unit",
	Short: "Print a systemd unit that runs capture",
	Long: `Print a systemd unit that runs 'dbwinlog capture --global --quiet' as a service.

Install it with:

  dbwinlog service-unit --user dbwin --log-file /var/log/dbwinlog.log > /etc/systemd/system/dbwinlog.service
  systemctl daemon-reload
  systemctl enable --now dbwinlog`,
	RunE: func(cmd *cobra.Command, args []string) error {
		binary := serviceBinary
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to find dbwinlog binary: %w", err)
			}
			binary = exe
		}
		return writeServiceUnit(os.Stdout, serviceUser, binary, captureArgs(serviceLogFile, serviceDB, serviceMetricsAddr))
	},
}

// captureArgs returns the capture command line run by the service.
func captureArgs(logFile, db, metricsAddr string) []string {
	args := []string{"capture", "--global", "--quiet"}
	if logFile != "" {
		args = append(args, "--log-file", logFile)
	}
	if db != "" {
		args = append(args, "--db", db)
	}
	if metricsAddr != "" {
		args = append(args, "--metrics-addr", metricsAddr)
	}
	return args
}

func writeServiceUnit(w io.Writer, user, binary string, args []string) error {
	if user == "" {
		return fmt.Errorf("missing --user")
	}
	if strings.ContainsAny(user, " \n") {
		return fmt.Errorf("invalid user %q", user)
	}

	exec := make([]string, 0, len(args)+1)
	for _, a := range append([]string{binary}, args...) {
		exec = append(exec, quoteSystemdArg(a))
	}

	unit := strings.ReplaceAll(systemdService, "{{USER}}", user)
	unit = strings.ReplaceAll(unit, "{{EXEC}}", strings.Join(exec, " "))
	_, err := io.WriteString(w, unit)
	return err
}

// quoteSystemdArg quotes a for an ExecStart line when it contains spaces or quotes.
func quoteSystemdArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"'\\") {
		return a
	}
	a = strings.ReplaceAll(a, `\`, `\\`)
	a = strings.ReplaceAll(a, `"`, `\"`)
	return `"` + a + `"`
}

func init() {
	serviceCmd.Flags().StringVar(&serviceUser, "user", "", "User the service runs as")
	serviceCmd.Flags().StringVar(&serviceBinary, "binary", "", "Path of the dbwinlog binary (default: this executable)")
	serviceCmd.Flags().StringVar(&serviceLogFile, "log-file", "", "Line log file written by the service")
	serviceCmd.Flags().StringVar(&serviceDB, "db", "", "SQLite database written by the service")
	serviceCmd.Flags().StringVar(&serviceMetricsAddr, "metrics-addr", "", "Metrics address served by the service")

	rootCmd.AddCommand(serviceCmd)
}
