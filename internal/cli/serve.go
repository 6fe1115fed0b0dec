package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tenderintel/intelbidder/internal/daemon"
)

var (
	servePort int
	serveHost string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config and $PORT)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the midnight credit refresher",
	Long: `Start the Intel Bidder API server. Credits, company search and report
generation are served under /api; /metrics exposes Prometheus counters.
The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	home := homeDir()
	cfg, err := daemon.LoadConfig(home)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}

	logger := daemon.NewLogger(cfg.Log, os.Stderr)
	d, err := daemon.NewWithConfig(home, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}

// ─── init ───────────────────────────────────────────────────────────────────

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml to the data directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := daemon.WriteDefault(homeDir())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ Config at %s\n", path)
		fmt.Fprintln(os.Stdout, "   Set [upstream].base_url or INTELBIDDER_UPSTREAM_URL, then run: intelbidder serve")
		return nil
	},
}

// ─── version ────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter()
		if err != nil {
			return err
		}
		if ok, err := p.structured(map[string]string{"version": daemon.Version}); ok {
			return err
		}
		p.printf("intelbidder %s\n", daemon.Version)
		return nil
	},
}
