// Package domain contains pure business types with ZERO infrastructure imports.
// It depends on nothing but the decimal type used for money.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Tender Data Types ──────────────────────────────────────────────────────
// Shapes returned by the upstream tender-data API. The tender client
// validates them at the boundary; nothing untyped travels inward.

// BidRecord is one row of a seller's bid history.
type BidRecord struct {
	SellerName     string `json:"seller_name"`
	OfferedItem    string `json:"offered_item"`
	ParticipatedOn string `json:"participated_on"`
	SellerStatus   string `json:"seller_status"`
	Rank           string `json:"rank"`
	TotalPrice     string `json:"total_price"`
	Organisation   string `json:"organisation"`
	Department     string `json:"department"`
	Ministry       string `json:"ministry"`
}

// Won reports whether the seller won this bid.
func (b BidRecord) Won() bool {
	return b.SellerStatus == "Win" || b.SellerStatus == "Won"
}

// Price parses TotalPrice; unparseable prices are zero.
func (b BidRecord) Price() decimal.Decimal {
	d, err := decimal.NewFromString(b.TotalPrice)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParticipatedAt parses ParticipatedOn, accepting RFC 3339 or a bare date.
func (b BidRecord) ParticipatedAt() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, b.ParticipatedOn); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// BidSummary is the aggregate block of a bids response ("table1").
type BidSummary struct {
	Win                   int             `json:"win"`
	Lost                  int             `json:"lost"`
	TotalBidValue         decimal.Decimal `json:"totalBidValue"`
	QualifiedBidValue     decimal.Decimal `json:"qualifiedBidValue"`
	DisqualifiedBidValue  decimal.Decimal `json:"disqualifiedBidValue"`
	TotalBidsParticipated int             `json:"totalBidsParticipated"`
	AverageOrderValue     decimal.Decimal `json:"averageOrderValue"`
}

// BidsResponse is the bid history of one company.
type BidsResponse struct {
	Count           int            `json:"count"`
	DepartmentCount map[string]int `json:"departmentCount"`
	StateCount      map[string]int `json:"stateCount"`
	MonthlyTotals   map[string]int `json:"monthlyTotals"`
	SortedRows      []BidRecord    `json:"sortedRows"`
	Summary         BidSummary     `json:"table1"`
}

// WinRate returns wins as a percentage of all bids (0 when there are none).
func (b *BidsResponse) WinRate() float64 {
	if b == nil || b.Count <= 0 {
		return 0
	}
	return float64(b.Summary.Win) / float64(b.Count) * 100
}

// PriceBand holds the price statistics of a company's bids.
type PriceBand struct {
	Highest decimal.Decimal `json:"highest"`
	Lowest  decimal.Decimal `json:"lowest"`
	Average decimal.Decimal `json:"average"`
}

// Range returns Highest - Lowest.
func (p PriceBand) Range() decimal.Decimal {
	return p.Highest.Sub(p.Lowest)
}

// StatePerformance is one state's tender volume.
type StatePerformance struct {
	StateName    string `json:"state_name"`
	TotalTenders int    `json:"total_tenders"`
}

// StatesResponse lists the top performing states.
type StatesResponse struct {
	GeneratedAt string             `json:"generated_at"`
	TTLSeconds  int                `json:"ttl_seconds"`
	Results     []StatePerformance `json:"results"`
}

// Department is one department and its tender count.
type Department struct {
	Name         string `json:"department"`
	TotalTenders string `json:"total_tenders"`
}

// DepartmentSeller ranks a seller within a department.
type DepartmentSeller struct {
	SellerName         string `json:"seller_name"`
	ParticipationCount int    `json:"participation_count"`
	Rank               int    `json:"rank"`
}

// DepartmentResponse lists the top sellers of one department.
type DepartmentResponse struct {
	Department string             `json:"department"`
	Total      int                `json:"total"`
	Results    []DepartmentSeller `json:"results"`
}

// Category is one entry of the category listing.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AffinitySignal is one AI-derived affinity hint.
type AffinitySignal struct {
	Dimension string `json:"dimension"`
	Name      string `json:"name"`
	Signal    string `json:"signal"`
}

// MissedWinnable is the missed-but-winnable analysis for a seller.
type MissedWinnable struct {
	Seller          string           `json:"seller"`
	StrategySummary string           `json:"strategy_summary"`
	Signals         []AffinitySignal `json:"signals"`
}

// ─── Counted Labels ─────────────────────────────────────────────────────────

// LabelCount pairs a label with a count.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopCounts sorts a label→count map by count descending (label ascending on
// ties) and keeps at most n entries; n <= 0 keeps all.
func TopCounts(m map[string]int, n int) []LabelCount {
	out := make([]LabelCount, 0, len(m))
	for k, v := range m {
		out = append(out, LabelCount{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
