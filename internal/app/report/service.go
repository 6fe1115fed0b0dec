// Package report builds, lays out and serializes tender intelligence reports.
//
// Generation is a strict sequence per request:
//  1. Validate input (no credit or network cost on failure)
//  2. Check the ledger has a credit left
//  3. Fetch the dossier from upstream (bounded by the fetch timeout)
//  4. Deduct one credit atomically
//  5. Build sections, transcribe and serialize; refund on failure
//  6. Record the artifact in the identity's history
//
// No partial document is ever returned.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tenderintel/intelbidder/internal/app/executor"
	"github.com/tenderintel/intelbidder/internal/domain"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
)

// Ledger is the part of the credit service the generator needs.
type Ledger interface {
	Load(ctx context.Context, identity string) (domain.CreditLedger, error)
	Deduct(ctx context.Context, identity string) (domain.CreditLedger, error)
	Refund(ctx context.Context, identity string, resetAt time.Time) error
}

// Config controls report generation.
type Config struct {
	FetchTimeout    time.Duration // upper bound on the dossier fetch (default: 30s)
	RefundOnFailure bool          // refund the credit when assembly fails (default: true)
	Retention       time.Duration // history retention (default: 30 days)
	MaxSize         int64         // largest artifact kept in history, bytes (0 = unlimited)
	MissedLimit     int           // default: 5
	MissedPerItem   int           // default: 10
	HistoryLimit    int           // default: 50
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:    30 * time.Second,
		RefundOnFailure: true,
		Retention:       30 * 24 * time.Hour,
		MissedLimit:     5,
		MissedPerItem:   10,
		HistoryLimit:    50,
	}
}

// Request describes one report to generate.
type Request struct {
	Company    string              `json:"companyName"`
	Format     domain.ReportFormat `json:"format"`
	Department string              `json:"department,omitempty"`
	DateRange  *DateRange          `json:"dateRange,omitempty"`
}

// Artifact is a generated report ready for download.
type Artifact struct {
	ID          string              `json:"id"`
	Filename    string              `json:"filename"`
	ContentType string              `json:"contentType"`
	Format      domain.ReportFormat `json:"format"`
	Pages       int                 `json:"pages,omitempty"`
	Skipped     int                 `json:"skippedBlocks,omitempty"`
	Remaining   int                 `json:"remainingCredits"`
	CreatedAt   time.Time           `json:"createdAt"`
	Data        []byte              `json:"-"`
}

// Service generates reports and keeps their history.
type Service struct {
	cfg      Config
	credits  Ledger
	source   domain.TenderSource
	history  domain.ReportStore
	renderer Renderer
	gate     *executor.Executor
	tracer   *observability.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the generator. tracer may be nil.
func NewService(cfg Config, credits Ledger, source domain.TenderSource, history domain.ReportStore, tracer *observability.Tracer, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MissedLimit <= 0 {
		cfg.MissedLimit = def.MissedLimit
	}
	if cfg.MissedPerItem <= 0 {
		cfg.MissedPerItem = def.MissedPerItem
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		credits:  credits,
		source:   source,
		history:  history,
		renderer: PDFRenderer{},
		tracer:   tracer,
		logger:   logger.With("component", "report"),
		now:      time.Now,
	}
}

// SetRenderer replaces the PDF serializer.
func (s *Service) SetRenderer(r Renderer) { s.renderer = r }

// SetExecutor limits concurrent generations through e.
func (s *Service) SetExecutor(e *executor.Executor) { s.gate = e }

// SetClock replaces the wall clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ─── Generate ───────────────────────────────────────────────────────────────

// Generate runs the full report flow for identity.
func (s *Service) Generate(ctx context.Context, identity string, req Request) (art *Artifact, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "report.generate", map[string]string{"identity": identity})
	format := req.Format
	defer func() {
		s.tracer.EndSpan(span, err)
		outcome := "ok"
		if err != nil {
			outcome = outcomeOf(err)
		}
		observability.ReportsGenerated.WithLabelValues(string(format), outcome).Inc()
	}()

	// 1. Validate.
	company, err := domain.ValidateCompany(req.Company)
	if err != nil {
		return nil, err
	}
	format, err = domain.ParseReportFormat(string(req.Format))
	if err != nil {
		return nil, err
	}
	if r := req.DateRange; r != nil && !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return nil, fmt.Errorf("date range ends before it starts: %w", domain.ErrValidation)
	}
	span.SetAttr("company", company)
	span.SetAttr("format", string(format))

	if s.gate != nil {
		release, gerr := s.gate.Acquire(identity)
		if gerr != nil {
			return nil, gerr
		}
		defer func() { release(err) }()
	}

	// 2. Credit check before spending anything upstream.
	ledger, err := s.credits.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if ledger.Remaining <= 0 {
		return nil, domain.ErrNoCreditsRemaining
	}

	// 3. Fetch.
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	fctx, fspan := s.tracer.StartSpan(fetchCtx, "report.fetch", nil)
	dossier, err := Gather(fctx, s.source, company, GatherOptions{
		Department:    req.Department,
		MissedLimit:   s.cfg.MissedLimit,
		MissedPerItem: s.cfg.MissedPerItem,
	}, s.logger)
	s.tracer.EndSpan(fspan, err)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%v: %w", err, domain.ErrTimeout)
		}
		s.logger.Info("report fetch failed", "identity", identity, "company", company, "error", err)
		return nil, err
	}

	// 4. Charge.
	charged, err := s.credits.Deduct(ctx, identity)
	if err != nil {
		return nil, err
	}

	// 5. Assemble.
	at := s.now()
	filters := Filters{Department: req.Department, DateRange: req.DateRange}
	data, pages, skipped, err := s.assemble(ctx, dossier, filters, format, at)
	if err != nil {
		if s.cfg.RefundOnFailure {
			if rerr := s.credits.Refund(ctx, identity, charged.ResetAt); rerr != nil {
				s.logger.Error("refund failed", "identity", identity, "error", rerr)
			} else {
				charged.Used--
				charged.Remaining++
			}
		}
		s.logger.Error("report assembly failed", "identity", identity, "company", company, "error", err)
		return nil, fmt.Errorf("assemble report: %w", err)
	}

	art = &Artifact{
		ID:          uuid.NewString(),
		Filename:    domain.ReportFilename(company, format, at),
		ContentType: format.ContentType(),
		Format:      format,
		Pages:       pages,
		Skipped:     skipped,
		Remaining:   charged.Remaining,
		CreatedAt:   at,
		Data:        data,
	}

	// 6. History. The download does not depend on it.
	s.record(ctx, identity, company, art)

	s.logger.Info("report generated",
		"identity", identity, "company", company, "format", format,
		"pages", pages, "bytes", len(data), "remaining", charged.Remaining)
	return art, nil
}

// assemble builds sections and serializes them in format.
func (s *Service) assemble(ctx context.Context, d *Dossier, f Filters, format domain.ReportFormat, at time.Time) (data []byte, pages, skipped int, err error) {
	_, span := s.tracer.StartSpan(ctx, "report.assemble", map[string]string{"format": string(format)})
	defer func() { s.tracer.EndSpan(span, err) }()

	sections := Build(d, f)
	if format == domain.FormatJSON {
		data, err = ExportJSON(d, sections, f, at)
		return data, 0, 0, err
	}

	start := time.Now()
	layout := Transcribe(sections, d.Company, at)
	for _, sk := range layout.Skipped {
		observability.SkippedBlocks.WithLabelValues(string(sk.Kind)).Inc()
		s.logger.Warn("skipped malformed block", "error", sk)
	}
	data, err = s.renderer.Render(layout)
	if err != nil {
		return nil, 0, 0, err
	}
	observability.TranscriptionDuration.Observe(float64(time.Since(start).Milliseconds()))
	observability.TranscriptionPages.Observe(float64(layout.PageCount()))
	span.SetAttr("pages", strconv.Itoa(layout.PageCount()))
	return data, layout.PageCount(), len(layout.Skipped), nil
}

func (s *Service) record(ctx context.Context, identity, company string, art *Artifact) {
	if s.history == nil {
		return
	}
	rec := domain.ReportRecord{
		ID:          art.ID,
		Identity:    identity,
		Subject:     company,
		Format:      art.Format,
		Filename:    art.Filename,
		ContentType: art.ContentType,
		SizeBytes:   int64(len(art.Data)),
		Pages:       art.Pages,
		CreatedAt:   art.CreatedAt,
	}
	if s.cfg.MaxSize <= 0 || rec.SizeBytes <= s.cfg.MaxSize {
		rec.Content = art.Data
	}
	if err := s.history.InsertReport(ctx, rec); err != nil {
		s.logger.Error("record report history", "id", art.ID, "error", err)
	}
}

// ─── History ────────────────────────────────────────────────────────────────

// History lists identity's reports, newest first, after pruning records
// older than the retention window.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]domain.ReportRecord, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	if n, err := s.history.PruneReports(ctx, s.now().Add(-s.cfg.Retention)); err != nil {
		s.logger.Warn("prune report history", "error", err)
	} else if n > 0 {
		s.logger.Info("pruned expired reports", "count", n)
	}
	return s.history.ListReports(ctx, identity, limit)
}

// Get returns one stored report of identity including its content.
func (s *Service) Get(ctx context.Context, identity, id string) (*domain.ReportRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("report %q: %w", id, domain.ErrReportNotFound)
	}
	rec, err := s.history.GetReport(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if s.now().Sub(rec.CreatedAt) > s.cfg.Retention {
		return nil, fmt.Errorf("report %s expired: %w", id, domain.ErrReportNotFound)
	}
	if len(rec.Content) == 0 {
		return nil, fmt.Errorf("report %s content not retained: %w", id, domain.ErrReportNotFound)
	}
	return rec, nil
}

// outcomeOf classifies an error for metrics.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidFormat):
		return "invalid"
	case errors.Is(err, domain.ErrNoCreditsRemaining):
		return "no_credits"
	case errors.Is(err, domain.ErrUpstreamDataMissing):
		return "no_data"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
