package report

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// Dossier is everything fetched from upstream for one report. Bids is
// required; the rest is best-effort and nil when unavailable.
type Dossier struct {
	Company     string                     `json:"company"`
	Bids        *domain.BidsResponse       `json:"bids"`
	PriceBand   *domain.PriceBand          `json:"priceBand,omitempty"`
	States      *domain.StatesResponse     `json:"states,omitempty"`
	Departments []domain.Department        `json:"departments,omitempty"`
	DeptSellers *domain.DepartmentResponse `json:"departmentSellers,omitempty"`
	Missed      *domain.MissedWinnable     `json:"missedOpportunities,omitempty"`
	Categories  []domain.Category          `json:"categories,omitempty"`
	Warnings    []string                   `json:"warnings,omitempty"`
}

// GatherOptions tunes the optional fetches.
type GatherOptions struct {
	Department    string // also rank sellers in this department
	MissedLimit   int
	MissedPerItem int
}

// Gather fetches the dossier for company. The independent GETs run in
// parallel and are joined before returning. A failed bids fetch fails the
// whole gather; other failures are recorded as warnings.
func Gather(ctx context.Context, src domain.TenderSource, company string, opts GatherOptions, logger *slog.Logger) (*Dossier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dossier{Company: company}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		bidsErr error
	)
	optional := func(name string, fetch func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fetch(); err != nil {
				mu.Lock()
				d.Warnings = append(d.Warnings, name+": "+err.Error())
				mu.Unlock()
				logger.Debug("optional fetch failed", "what", name, "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := src.Bids(ctx, company)
		mu.Lock()
		d.Bids, bidsErr = b, err
		mu.Unlock()
	}()

	optional("price band", func() error {
		v, err := src.PriceBand(ctx, company)
		mu.Lock()
		d.PriceBand = v
		mu.Unlock()
		return err
	})
	optional("states", func() error {
		v, err := src.TopStates(ctx)
		mu.Lock()
		d.States = v
		mu.Unlock()
		return err
	})
	optional("departments", func() error {
		v, err := src.Departments(ctx)
		mu.Lock()
		d.Departments = v
		mu.Unlock()
		return err
	})
	optional("missed opportunities", func() error {
		v, err := src.MissedWinnable(ctx, company, opts.MissedLimit, opts.MissedPerItem)
		mu.Lock()
		d.Missed = v
		mu.Unlock()
		return err
	})
	optional("categories", func() error {
		v, err := src.Categories(ctx)
		mu.Lock()
		d.Categories = v
		mu.Unlock()
		return err
	})
	if opts.Department != "" {
		optional("department sellers", func() error {
			v, err := src.TopSellersByDept(ctx, opts.Department, 10)
			mu.Lock()
			d.DeptSellers = v
			mu.Unlock()
			return err
		})
	}

	wg.Wait()

	if bidsErr != nil {
		return nil, bidsErr
	}
	if d.Bids == nil {
		return nil, domain.ErrUpstreamDataMissing
	}
	sort.Strings(d.Warnings)
	return d, nil
}
