// Package insight reshapes upstream tender data into chart-ready series for
// the company search view. Searching costs no credits.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
)

const (
	topStatesShown  = 15
	categoriesShown = 8
)

// MonthPoint is one point of the monthly bid trend.
type MonthPoint struct {
	Month string `json:"month"` // YYYY-MM
	Label string `json:"label"` // Jan 25
	Value int    `json:"value"`
}

// Overview is the search result for one company.
type Overview struct {
	Company      string                    `json:"company"`
	Count        int                       `json:"count"`
	Summary      domain.BidSummary         `json:"summary"`
	WinRate      float64                   `json:"winRate"`
	MonthlyTrend []MonthPoint              `json:"monthlyTrend"`
	States       []domain.LabelCount       `json:"states"`
	Departments  []domain.Department       `json:"departments"`
	Categories   []domain.Category         `json:"categories"`
	PriceBand    *domain.PriceBand         `json:"priceBand,omitempty"`
	TopStates    []domain.StatePerformance `json:"topStates"`
	Warnings     []string                  `json:"warnings,omitempty"`
}

// Service answers company searches.
type Service struct {
	source  domain.TenderSource
	tracer  *observability.Tracer
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates the search service. timeout bounds the upstream fetch;
// zero means 30s.
func NewService(source domain.TenderSource, tracer *observability.Tracer, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, tracer: tracer, timeout: timeout, logger: logger.With("component", "insight")}
}

// Search fetches and shapes the overview for name. A missing bid history is
// reported as ErrUpstreamDataMissing; other sources degrade to warnings.
func (s *Service) Search(ctx context.Context, name string) (ov *Overview, err error) {
	company, err := domain.ValidateCompany(name)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "insight.search", map[string]string{"company": company})
	defer func() { s.tracer.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		bids     *domain.BidsResponse
		bidsErr  error
		price    *domain.PriceBand
		cats     []domain.Category
		states   *domain.StatesResponse
		depts    []domain.Department
		warnings []string
	)
	warn := func(what string, err error) {
		mu.Lock()
		warnings = append(warnings, what+": "+err.Error())
		mu.Unlock()
	}

	wg.Add(5)
	go func() {
		defer wg.Done()
		bids, bidsErr = s.source.Bids(ctx, company)
	}()
	go func() {
		defer wg.Done()
		v, err := s.source.PriceBand(ctx, company)
		if err != nil {
			warn("price band", err)
			return
		}
		price = v
	}()
	go func() {
		defer wg.Done()
		v, err := s.source.Categories(ctx)
		if err != nil {
			warn("categories", err)
			return
		}
		cats = v
	}()
	go func() {
		defer wg.Done()
		v, err := s.source.TopStates(ctx)
		if err != nil {
			warn("states", err)
			return
		}
		states = v
	}()
	go func() {
		defer wg.Done()
		v, err := s.source.Departments(ctx)
		if err != nil {
			warn("departments", err)
			return
		}
		depts = v
	}()
	wg.Wait()

	if bidsErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(bidsErr, domain.ErrTimeout) {
			bidsErr = fmt.Errorf("%v: %w", bidsErr, domain.ErrTimeout)
		}
		return nil, bidsErr
	}
	if bids == nil {
		return nil, domain.ErrUpstreamDataMissing
	}

	sort.Strings(warnings)
	for _, w := range warnings {
		s.logger.Debug("search source degraded", "company", company, "warning", w)
	}

	return &Overview{
		Company:      company,
		Count:        bids.Count,
		Summary:      bids.Summary,
		WinRate:      bids.WinRate(),
		MonthlyTrend: MonthlyTrend(bids.MonthlyTotals),
		States:       domain.TopCounts(bids.StateCount, 0),
		Departments:  depts,
		Categories:   TopCategories(cats, categoriesShown),
		PriceBand:    price,
		TopStates:    TopStates(states, topStatesShown),
		Warnings:     warnings,
	}, nil
}

// MonthlyTrend orders "YYYY-MM" totals chronologically.
func MonthlyTrend(totals map[string]int) []MonthPoint {
	out := make([]MonthPoint, 0, len(totals))
	for k, v := range totals {
		out = append(out, MonthPoint{Month: k, Label: domain.FormatMonth(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// TopStates sorts states by tender volume and keeps the first n.
func TopStates(r *domain.StatesResponse, n int) []domain.StatePerformance {
	if r == nil {
		return []domain.StatePerformance{}
	}
	out := make([]domain.StatePerformance, len(r.Results))
	copy(out, r.Results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalTenders > out[j].TotalTenders })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopCategories keeps the n largest categories and folds the rest into
// "Others".
func TopCategories(cats []domain.Category, n int) []domain.Category {
	out := make([]domain.Category, len(cats))
	copy(out, cats)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n <= 0 || len(out) <= n {
		return out
	}
	others := 0
	for _, c := range out[n:] {
		others += c.Count
	}
	return append(out[:n], domain.Category{Name: "Others", Count: others})
}
