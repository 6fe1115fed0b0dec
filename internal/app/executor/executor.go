// Package executor bounds concurrent report generation.
//
// The executor:
//  1. Admits at most one generation per identity at a time
//  2. Caps generations across all identities with a slot semaphore
//  3. Rejects immediately when either limit is reached
//  4. Counts completed and failed runs for inspection
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// Config controls executor behavior.
type Config struct {
	MaxConcurrent int // Maximum concurrent generations (default: 4)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
	}
}

// Executor gates generation runs.
type Executor struct {
	mu        sync.Mutex
	config    Config
	sem       chan struct{} // Concurrency semaphore
	inflight  map[string]struct{}
	completed int64
	failed    int64
	rejected  int64
	logger    *slog.Logger
}

// New creates an executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config:   cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		inflight: make(map[string]struct{}),
		logger:   logger.With("component", "executor"),
	}
}

// Acquire claims a slot for identity. The returned release must be called
// exactly once with the run's error (nil on success).
func (e *Executor) Acquire(identity string) (release func(err error), err error) {
	e.mu.Lock()
	if _, busy := e.inflight[identity]; busy {
		e.rejected++
		e.mu.Unlock()
		return nil, fmt.Errorf("a report for %s is already being generated: %w", identity, domain.ErrBusy)
	}

	select {
	case e.sem <- struct{}{}:
	default:
		e.rejected++
		e.mu.Unlock()
		e.logger.Warn("at capacity", "max", e.config.MaxConcurrent)
		return nil, fmt.Errorf("executor at capacity (%d concurrent reports): %w", e.config.MaxConcurrent, domain.ErrBusy)
	}
	e.inflight[identity] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return func(runErr error) {
		once.Do(func() {
			e.mu.Lock()
			delete(e.inflight, identity)
			if runErr != nil {
				e.failed++
			} else {
				e.completed++
			}
			e.mu.Unlock()
			<-e.sem
		})
	}, nil
}

// Run executes fn under the gate for identity.
func (e *Executor) Run(ctx context.Context, identity string, fn func(ctx context.Context) error) (err error) {
	release, err := e.Acquire(identity)
	if err != nil {
		return err
	}
	defer func() { release(err) }()
	return fn(ctx)
}

// Stats returns executor statistics.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := len(e.inflight)
	return Stats{
		Active:    active,
		Completed: e.completed,
		Failed:    e.failed,
		Rejected:  e.rejected,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - active,
	}
}

// ActiveCount returns the number of running generations.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}
