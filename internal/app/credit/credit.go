// Package credit rations report generation through a per-identity daily
// ledger.
//
// The service is constructed once by the daemon and injected into the
// report generator and the API. All mutations go through conditional store
// updates, so any number of service instances (or processes sharing a
// Postgres database) may run against the same ledgers.
package credit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
)

// maxAttempts bounds the retry loop when another writer changes the ledger
// between our read and our conditional write.
const maxAttempts = 5

// Config controls ledger behaviour.
type Config struct {
	DailyCredits    int            // Allocation per period (default: 10)
	Location        *time.Location // Zone of the midnight boundary (default: Local)
	RefreshInterval time.Duration  // Period of the background reset sweep (default: 60s)
}

// DefaultConfig returns the standard allocation.
func DefaultConfig() Config {
	return Config{
		DailyCredits:    domain.DailyCredits,
		Location:        time.Local,
		RefreshInterval: 60 * time.Second,
	}
}

// Service owns ledger lifecycle: load, deduct, refund, reset.
type Service struct {
	store  domain.LedgerStore
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a ledger service over store.
func NewService(store domain.LedgerStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.DailyCredits <= 0 {
		cfg.DailyCredits = domain.DailyCredits
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "credit"),
	}
}

// SetClock replaces the wall clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Now returns the current time in the ledger's zone.
func (s *Service) Now() time.Time { return s.now().In(s.cfg.Location) }

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// ─── Load ───────────────────────────────────────────────────────────────────

// Load returns the current-period ledger for identity. An absent ledger is
// created; an expired one is reset. The result never has Remaining < 0.
func (s *Service) Load(ctx context.Context, identity string) (domain.CreditLedger, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := s.Now()
		stored, err := s.store.GetLedger(ctx, identity)
		if err != nil {
			return domain.CreditLedger{}, fmt.Errorf("load ledger: %w", err)
		}

		if stored == nil {
			fresh := domain.NewLedger(identity, s.cfg.DailyCredits, now)
			if err := s.store.CreateLedger(ctx, fresh); err != nil {
				return domain.CreditLedger{}, fmt.Errorf("create ledger: %w", err)
			}
			// Re-read: a concurrent creator may have won.
			continue
		}

		if stored.Expired(now) {
			fresh := domain.NewLedger(identity, s.cfg.DailyCredits, now)
			ok, err := s.store.ResetLedger(ctx, identity, stored.ResetAt, fresh)
			if err != nil {
				return domain.CreditLedger{}, fmt.Errorf("reset ledger: %w", err)
			}
			if ok {
				observability.CreditResets.WithLabelValues("load").Inc()
				s.logger.Info("ledger reset", "identity", identity, "reset_at", fresh.ResetAt)
			}
			continue
		}

		l := s.localize(*stored)
		observability.CreditsRemaining.WithLabelValues(identity).Set(float64(l.Remaining))
		return l, nil
	}
	return domain.CreditLedger{}, fmt.Errorf("load ledger %s: too much contention", identity)
}

// ─── Deduct / Refund ────────────────────────────────────────────────────────

// Deduct consumes one credit and returns the updated ledger. Fails with
// domain.ErrNoCreditsRemaining when the period's allocation is spent. Two
// callers racing for the last credit get exactly one success.
func (s *Service) Deduct(ctx context.Context, identity string) (domain.CreditLedger, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		l, err := s.Load(ctx, identity)
		if err != nil {
			return domain.CreditLedger{}, err
		}
		next, err := l.Deduct()
		if err != nil {
			observability.CreditDeductions.WithLabelValues("exhausted").Inc()
			return l, err
		}

		ok, err := s.store.DeductCredit(ctx, identity, l.ResetAt)
		if err != nil {
			return domain.CreditLedger{}, fmt.Errorf("deduct: %w", err)
		}
		if ok {
			observability.CreditDeductions.WithLabelValues("ok").Inc()
			observability.CreditsRemaining.WithLabelValues(identity).Set(float64(next.Remaining))
			s.logger.Debug("credit deducted", "identity", identity, "remaining", next.Remaining)
			return next, nil
		}
		// Lost the race: either someone took the last credit or the period
		// rolled over. Reload and decide again.
	}
	return domain.CreditLedger{}, fmt.Errorf("deduct %s: too much contention", identity)
}

// Refund returns one credit to the period ending at resetAt. A refund for a
// period that has already ended is a no-op.
func (s *Service) Refund(ctx context.Context, identity string, resetAt time.Time) error {
	ok, err := s.store.RefundCredit(ctx, identity, resetAt)
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	if ok {
		observability.CreditDeductions.WithLabelValues("refunded").Inc()
		s.logger.Info("credit refunded", "identity", identity)
	}
	return nil
}

// ─── Administrative ─────────────────────────────────────────────────────────

// AdminReset restores a full allocation for identity immediately. This is
// the privileged override and is never reachable from the gated flow.
func (s *Service) AdminReset(ctx context.Context, identity string) (domain.CreditLedger, error) {
	fresh := domain.NewLedger(identity, s.cfg.DailyCredits, s.Now())
	if err := s.store.PutLedger(ctx, fresh); err != nil {
		return domain.CreditLedger{}, fmt.Errorf("admin reset: %w", err)
	}
	observability.CreditResets.WithLabelValues("admin").Inc()
	observability.CreditsRemaining.WithLabelValues(identity).Set(float64(fresh.Remaining))
	s.logger.Warn("ledger reset by administrator", "identity", identity)
	return fresh, nil
}

// ─── Countdown ──────────────────────────────────────────────────────────────

// TimeUntilReset returns the countdown to l's period boundary at the
// service's current time.
func (s *Service) TimeUntilReset(l domain.CreditLedger) domain.Countdown {
	return l.TimeUntilReset(s.Now())
}

// ─── Periodic Refresh ───────────────────────────────────────────────────────

// Refresh resets every ledger whose period has ended. Safe to run
// redundantly: each reset is conditional on the boundary it observed.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	now := s.Now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	n := 0
	for _, l := range expired {
		fresh := domain.NewLedger(l.Identity, s.cfg.DailyCredits, now)
		ok, err := s.store.ResetLedger(ctx, l.Identity, l.ResetAt, fresh)
		if err != nil {
			return n, fmt.Errorf("refresh %s: %w", l.Identity, err)
		}
		if ok {
			n++
			observability.CreditResets.WithLabelValues("refresh").Inc()
			observability.CreditsRemaining.WithLabelValues(l.Identity).Set(float64(fresh.Remaining))
		}
	}
	if n > 0 {
		s.logger.Info("ledgers reset", "count", n)
	}
	return n, nil
}

// Run sweeps expired ledgers every RefreshInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("refresh failed", "error", err)
			}
		}
	}
}

// localize renders timestamps in the configured zone.
func (s *Service) localize(l domain.CreditLedger) domain.CreditLedger {
	l.ResetAt = l.ResetAt.In(s.cfg.Location)
	return l
}
