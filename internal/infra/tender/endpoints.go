package tender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Wire Types ─────────────────────────────────────────────────────────────
// Decoding targets for each endpoint. They tolerate the loose typing the
// upstream uses (numbers sent as strings and vice versa) and are converted
// into domain types only after validation.

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", string(s))
	}
	*f = flexInt(n)
	return nil
}

type wireBid struct {
	SellerName     flexString `json:"seller_name"`
	OfferedItem    flexString `json:"offered_item"`
	ParticipatedOn flexString `json:"participated_on"`
	SellerStatus   flexString `json:"seller_status"`
	Rank           flexString `json:"rank"`
	TotalPrice     flexString `json:"total_price"`
	Organisation   flexString `json:"organisation"`
	Department     flexString `json:"department"`
	Ministry       flexString `json:"ministry"`
}

type wireBids struct {
	Count           flexInt            `json:"count"`
	DepartmentCount map[string]flexInt `json:"departmentCount"`
	StateCount      map[string]flexInt `json:"stateCount"`
	MonthlyTotals   map[string]flexInt `json:"monthlyTotals"`
	SortedRows      []wireBid          `json:"sortedRows"`
	Table1          *struct {
		Win                   flexInt         `json:"win"`
		Lost                  flexInt         `json:"lost"`
		TotalBidValue         decimal.Decimal `json:"totalBidValue"`
		QualifiedBidValue     decimal.Decimal `json:"qualifiedBidValue"`
		DisqualifiedBidValue  decimal.Decimal `json:"disqualifiedBidValue"`
		TotalBidsParticipated flexInt         `json:"totalBidsParticipated"`
		AverageOrderValue     decimal.Decimal `json:"averageOrderValue"`
	} `json:"table1"`
}

type wirePriceBand struct {
	Highest *decimal.Decimal `json:"highest"`
	Lowest  *decimal.Decimal `json:"lowest"`
	Average *decimal.Decimal `json:"average"`
}

type wireStates struct {
	GeneratedAt string `json:"generated_at"`
	TTLSeconds  int    `json:"ttl_seconds"`
	Results     []struct {
		StateName    string  `json:"state_name"`
		TotalTenders flexInt `json:"total_tenders"`
	} `json:"results"`
}

type wireDepartment struct {
	Department   string     `json:"department"`
	TotalTenders flexString `json:"total_tenders"`
}

type wireDeptSellers struct {
	Department string  `json:"department"`
	Total      flexInt `json:"total"`
	Results    []struct {
		SellerName         string  `json:"seller_name"`
		ParticipationCount flexInt `json:"participation_count"`
		Rank               flexInt `json:"rank"`
	} `json:"results"`
}

type wireMissed struct {
	Seller string `json:"seller"`
	AI     *struct {
		StrategySummary string `json:"strategy_summary"`
		Signals         struct {
			OrgAffinity []struct {
				Org    string `json:"org"`
				Signal string `json:"signal"`
			} `json:"org_affinity"`
			DeptAffinity []struct {
				Dept   string `json:"dept"`
				Signal string `json:"signal"`
			} `json:"dept_affinity"`
			MinistryAffinity []struct {
				Ministry string `json:"ministry"`
				Signal   string `json:"signal"`
			} `json:"ministry_affinity"`
		} `json:"signals"`
	} `json:"ai"`
}

func flattenCounts(m map[string]flexInt) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out[k] = int(v)
	}
	return out
}

func missing(endpoint, detail string) error {
	return upstreamErr(endpoint, 0, domain.ErrUpstreamDataMissing, detail)
}

// ─── Endpoints ──────────────────────────────────────────────────────────────

// Bids returns the bid history of company. A zero-count history is
// reported as ErrUpstreamDataMissing.
func (c *Client) Bids(ctx context.Context, company string) (*domain.BidsResponse, error) {
	const ep = "bids"
	var w wireBids
	if err := c.get(ctx, ep, "/bids", url.Values{"q": {company}}, &w); err != nil {
		return nil, err
	}
	if w.Count < 0 {
		return nil, missing(ep, fmt.Sprintf("negative count %d", w.Count))
	}
	if w.Count == 0 && len(w.SortedRows) == 0 {
		return nil, missing(ep, "no bids for "+company)
	}

	out := &domain.BidsResponse{
		Count:           int(w.Count),
		DepartmentCount: flattenCounts(w.DepartmentCount),
		StateCount:      flattenCounts(w.StateCount),
		MonthlyTotals:   flattenCounts(w.MonthlyTotals),
		SortedRows:      make([]domain.BidRecord, 0, len(w.SortedRows)),
	}
	if out.Count == 0 {
		out.Count = len(w.SortedRows)
	}
	for _, r := range w.SortedRows {
		out.SortedRows = append(out.SortedRows, domain.BidRecord{
			SellerName:     string(r.SellerName),
			OfferedItem:    string(r.OfferedItem),
			ParticipatedOn: string(r.ParticipatedOn),
			SellerStatus:   string(r.SellerStatus),
			Rank:           string(r.Rank),
			TotalPrice:     string(r.TotalPrice),
			Organisation:   string(r.Organisation),
			Department:     string(r.Department),
			Ministry:       string(r.Ministry),
		})
	}
	if t := w.Table1; t != nil {
		out.Summary = domain.BidSummary{
			Win:                   int(t.Win),
			Lost:                  int(t.Lost),
			TotalBidValue:         t.TotalBidValue,
			QualifiedBidValue:     t.QualifiedBidValue,
			DisqualifiedBidValue:  t.DisqualifiedBidValue,
			TotalBidsParticipated: int(t.TotalBidsParticipated),
			AverageOrderValue:     t.AverageOrderValue,
		}
	} else {
		out.Summary = summarize(out.SortedRows)
	}
	if out.Summary.Win < 0 || out.Summary.Lost < 0 {
		return nil, missing(ep, "negative win/loss totals")
	}
	return out, nil
}

// summarize derives the aggregate block when the upstream omits it.
func summarize(rows []domain.BidRecord) domain.BidSummary {
	var s domain.BidSummary
	for _, r := range rows {
		s.TotalBidValue = s.TotalBidValue.Add(r.Price())
		if r.Won() {
			s.Win++
		} else {
			s.Lost++
		}
	}
	s.TotalBidsParticipated = len(rows)
	if len(rows) > 0 {
		s.AverageOrderValue = s.TotalBidValue.Div(decimal.NewFromInt(int64(len(rows))))
	}
	return s
}

// PriceBand returns price statistics for company.
func (c *Client) PriceBand(ctx context.Context, company string) (*domain.PriceBand, error) {
	const ep = "price-band"
	var w wirePriceBand
	if err := c.get(ctx, ep, "/price-band-analysis", url.Values{"q": {company}}, &w); err != nil {
		return nil, err
	}
	if w.Highest == nil || w.Lowest == nil {
		return nil, missing(ep, "price band without bounds")
	}
	band := &domain.PriceBand{Highest: *w.Highest, Lowest: *w.Lowest}
	if w.Average != nil {
		band.Average = *w.Average
	}
	if band.Highest.LessThan(band.Lowest) {
		return nil, missing(ep, "highest below lowest")
	}
	return band, nil
}

// TopStates returns the top performing states.
func (c *Client) TopStates(ctx context.Context) (*domain.StatesResponse, error) {
	const ep = "top-states"
	var w wireStates
	if err := c.get(ctx, ep, "/top-performing-states", nil, &w); err != nil {
		return nil, err
	}
	out := &domain.StatesResponse{GeneratedAt: w.GeneratedAt, TTLSeconds: w.TTLSeconds}
	for _, r := range w.Results {
		if strings.TrimSpace(r.StateName) == "" {
			continue
		}
		out.Results = append(out.Results, domain.StatePerformance{StateName: r.StateName, TotalTenders: int(r.TotalTenders)})
	}
	if len(out.Results) == 0 {
		return nil, missing(ep, "no states")
	}
	return out, nil
}

// Departments returns every department with its tender count.
func (c *Client) Departments(ctx context.Context) ([]domain.Department, error) {
	const ep = "departments"
	var w []wireDepartment
	if err := c.get(ctx, ep, "/dept", nil, &w); err != nil {
		return nil, err
	}
	out := make([]domain.Department, 0, len(w))
	for _, d := range w {
		if strings.TrimSpace(d.Department) == "" {
			continue
		}
		out = append(out, domain.Department{Name: d.Department, TotalTenders: string(d.TotalTenders)})
	}
	if len(out) == 0 {
		return nil, missing(ep, "no departments")
	}
	return out, nil
}

// TopSellersByDept ranks sellers within department.
func (c *Client) TopSellersByDept(ctx context.Context, department string, limit int) (*domain.DepartmentResponse, error) {
	const ep = "top-sellers-by-dept"
	if strings.TrimSpace(department) == "" {
		return nil, fmt.Errorf("department is required: %w", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = 10
	}
	var w wireDeptSellers
	q := url.Values{"department": {department}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, ep, "/top-sellers-by-dept", q, &w); err != nil {
		return nil, err
	}
	out := &domain.DepartmentResponse{Department: w.Department, Total: int(w.Total)}
	if out.Department == "" {
		out.Department = department
	}
	for _, r := range w.Results {
		out.Results = append(out.Results, domain.DepartmentSeller{
			SellerName:         r.SellerName,
			ParticipationCount: int(r.ParticipationCount),
			Rank:               int(r.Rank),
		})
	}
	if len(out.Results) == 0 {
		return nil, missing(ep, "no sellers for "+department)
	}
	return out, nil
}

// Categories returns the category listing, largest first. The upstream
// sends a list of single-key {name: count} objects.
func (c *Client) Categories(ctx context.Context) ([]domain.Category, error) {
	const ep = "categories"
	var w []map[string]flexInt
	if err := c.get(ctx, ep, "/category-listing", nil, &w); err != nil {
		return nil, err
	}
	var out []domain.Category
	for _, item := range w {
		for name, n := range item {
			if strings.TrimSpace(name) == "" {
				continue
			}
			out = append(out, domain.Category{Name: name, Count: int(n)})
		}
	}
	if len(out) == 0 {
		return nil, missing(ep, "no categories")
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// MissedWinnable returns the missed-but-winnable analysis for seller.
func (c *Client) MissedWinnable(ctx context.Context, seller string, limit, perItem int) (*domain.MissedWinnable, error) {
	const ep = "missed-but-winnable"
	if limit <= 0 {
		limit = 5
	}
	if perItem <= 0 {
		perItem = 10
	}
	var w wireMissed
	q := url.Values{
		"seller_name": {seller},
		"limit":       {strconv.Itoa(limit)},
		"perItem":     {strconv.Itoa(perItem)},
	}
	if err := c.get(ctx, ep, "/missed-but-winnable", q, &w); err != nil {
		return nil, err
	}
	if w.AI == nil {
		return nil, missing(ep, "no analysis")
	}

	out := &domain.MissedWinnable{Seller: w.Seller, StrategySummary: strings.TrimSpace(w.AI.StrategySummary)}
	if out.Seller == "" {
		out.Seller = seller
	}
	for _, s := range w.AI.Signals.OrgAffinity {
		out.Signals = append(out.Signals, domain.AffinitySignal{Dimension: "Organisation", Name: s.Org, Signal: s.Signal})
	}
	for _, s := range w.AI.Signals.DeptAffinity {
		out.Signals = append(out.Signals, domain.AffinitySignal{Dimension: "Department", Name: s.Dept, Signal: s.Signal})
	}
	for _, s := range w.AI.Signals.MinistryAffinity {
		out.Signals = append(out.Signals, domain.AffinitySignal{Dimension: "Ministry", Name: s.Ministry, Signal: s.Signal})
	}
	if out.StrategySummary == "" && len(out.Signals) == 0 {
		return nil, missing(ep, "empty analysis")
	}
	return out, nil
}
