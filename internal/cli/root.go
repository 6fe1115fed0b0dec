// Package cli implements the intelbidder command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tenderintel/intelbidder/internal/daemon"
)

var (
	flagHome     string
	flagOutput   string
	flagIdentity string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "intelbidder",
	Short: "Tender intelligence reports with a daily credit allowance",
	Long: `Intel Bidder looks up a company's public tender history, turns it into
charts and tables, and produces downloadable PDF or JSON reports. Each
report costs one credit; credits refill at local midnight.

Run 'intelbidder serve' for the HTTP API, or use the commands below
directly against the local store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Data directory (default $INTELBIDDER_HOME or ~/.intelbidder)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "Act as this identity (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug output to stderr")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func homeDir() string {
	if flagHome != "" {
		return flagHome
	}
	return daemon.Home()
}

// openDaemon wires the services for a one-shot command. Logs go to stderr
// at warn level unless --verbose is set.
func openDaemon() (*daemon.Daemon, error) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return daemon.New(homeDir(), logger)
}

// identity returns --identity or the configured default.
func identity(d *daemon.Daemon) (string, error) {
	id := flagIdentity
	if id == "" {
		id = d.Config.Credits.DefaultIdentity
	}
	if !validIdentity(id) {
		return "", fmt.Errorf("invalid identity %q", id)
	}
	return id, nil
}

// validIdentity accepts letters, digits and . _ @ - up to 128 bytes.
func validIdentity(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '@', c == '-':
		default:
			return false
		}
	}
	return true
}

func newPrinter() (*printer, error) {
	return newPrinterFor(os.Stdout, flagOutput, isTTY())
}
