// Package daemon wires configuration, storage and services into a running
// Intel Bidder process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenderintel/intelbidder/internal/api"
	"github.com/tenderintel/intelbidder/internal/app/credit"
	"github.com/tenderintel/intelbidder/internal/app/executor"
	"github.com/tenderintel/intelbidder/internal/app/insight"
	"github.com/tenderintel/intelbidder/internal/app/report"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
	"github.com/tenderintel/intelbidder/internal/infra/store"
	"github.com/tenderintel/intelbidder/internal/infra/tender"
)

// Version is stamped at build time with -ldflags "-X ...daemon.Version=...".
var Version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Daemon holds every wired component. The CLI uses it directly for local
// commands; Serve exposes it over HTTP.
type Daemon struct {
	Home    string
	Config  Config
	DB      *store.DB
	Credits *credit.Service
	Reports *report.Service
	Gate    *executor.Executor
	Search  *insight.Service
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// New loads the configuration from home and wires the services.
func New(home string, logger *slog.Logger) (*Daemon, error) {
	cfg, err := LoadConfig(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logger == nil {
		logger = NewLogger(cfg.Log, os.Stderr)
	}
	return NewWithConfig(home, cfg, logger)
}

// NewWithConfig wires the services from an already loaded configuration.
func NewWithConfig(home string, cfg Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}
	db, err := store.OpenDriver(cfg.Storage.Driver, home, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	source, err := tender.NewClient(tender.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Token:   cfg.Upstream.Token,
		Timeout: mustDuration(cfg.Upstream.Timeout),
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	tracer := observability.NewTracer(observability.TracerConfig{
		Enabled:  cfg.Telemetry.Tracing,
		MaxSpans: cfg.Telemetry.MaxSpans,
	})

	credits := credit.NewService(db, credit.Config{
		DailyCredits:    cfg.Credits.DailyCredits,
		Location:        loc,
		RefreshInterval: mustDuration(cfg.Credits.RefreshInterval),
	}, logger)

	reports := report.NewService(report.Config{
		FetchTimeout:    mustDuration(cfg.Upstream.Timeout),
		RefundOnFailure: cfg.Reports.RefundOnFailure,
		Retention:       mustDuration(cfg.Reports.Retention),
		MaxSize:         int64(parseReportSize(cfg.Reports.MaxSize)),
		MissedLimit:     cfg.Reports.MissedLimit,
		MissedPerItem:   cfg.Reports.MissedPerItem,
	}, credits, source, db, tracer, logger)
	reports.SetRenderer(report.PDFRenderer{Author: cfg.Reports.Author})
	gate := executor.New(executor.Config{MaxConcurrent: cfg.Reports.MaxConcurrent}, logger)
	reports.SetExecutor(gate)

	search := insight.NewService(source, tracer, mustDuration(cfg.Upstream.Timeout), logger)

	return &Daemon{
		Home:    home,
		Config:  cfg,
		DB:      db,
		Credits: credits,
		Reports: reports,
		Gate:    gate,
		Search:  search,
		Tracer:  tracer,
		Logger:  logger.With("component", "daemon"),
	}, nil
}

// Close releases the store.
func (d *Daemon) Close() error {
	return d.DB.Close()
}

// Handler builds the HTTP API over the wired services.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Credits, d.Reports, d.Search, d.Logger)
	srv.SetVersion(Version)
	srv.SetDefaultIdentity(d.Config.Credits.DefaultIdentity)
	srv.SetAdminToken(d.Config.API.AdminToken)
	srv.SetRequestTimeout(mustDuration(d.Config.API.RequestTimeout))
	if d.Config.Telemetry.Metrics {
		srv.EnableMetrics()
	}
	if d.Config.Telemetry.Tracing {
		srv.SetTracer(d.Tracer)
	}
	return srv.Handler()
}

// Serve starts the credit refresher and the HTTP listener, and blocks until
// ctx is cancelled or SIGINT/SIGTERM arrives. Shutdown is graceful.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.Credits.Run(ctx)

	httpSrv := &http.Server{
		Addr:              d.Config.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("listening", "addr", httpSrv.Addr, "version", Version,
			"storage", d.Config.Storage.Driver, "upstream", d.Config.Upstream.BaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	d.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
