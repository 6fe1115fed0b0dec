package report

import (
	"sort"
	"strings"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Section Builder ────────────────────────────────────────────────────────
// Normalizes a dossier into report sections. Sections without data are left
// out rather than rendered empty.

const (
	topDistribution = 10
	recentBids      = 20
	monthsShown     = 12
)

// DateRange filters bid history rows by participation date (inclusive).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the range. Zero bounds are open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Filters narrow the bid history shown in the report.
type Filters struct {
	Department string
	DateRange  *DateRange
}

// BidHistoryColumns is the column set of the bid history table.
var BidHistoryColumns = []domain.Column{
	{Title: "Date", Width: 25},
	{Title: "Item", Width: 50, Wide: true},
	{Title: "Status", Width: 20},
	{Title: "Rank", Width: 15},
	{Title: "Price", Width: 30},
	{Title: "Organisation", Width: 30},
}

// Build turns a dossier into ordered report sections.
func Build(d *Dossier, f Filters) domain.ReportSections {
	var out domain.ReportSections
	if d == nil || d.Bids == nil {
		return out
	}
	b := d.Bids

	out = append(out, domain.Section{
		Title:  "Performance Overview",
		Blocks: []domain.Block{performanceStats(b)},
	})

	if len(b.DepartmentCount) > 0 {
		out = append(out, domain.Section{
			Title: "Department Distribution",
			Blocks: []domain.Block{domain.DistributionBlock{
				Entries: domain.TopCounts(b.DepartmentCount, topDistribution), Unit: "bids",
			}},
		})
	}

	if len(b.StateCount) > 0 {
		out = append(out, domain.Section{
			Title: "Geographic Performance",
			Blocks: []domain.Block{domain.DistributionBlock{
				Entries: domain.TopCounts(b.StateCount, topDistribution), Unit: "bids",
			}},
		})
	}

	if months := MonthlySeries(b.MonthlyTotals, monthsShown); len(months) > 0 {
		out = append(out, domain.Section{
			Title:  "Monthly Activity",
			Blocks: []domain.Block{domain.DistributionBlock{Entries: months, Unit: "bids"}},
		})
	}

	if p := d.PriceBand; p != nil {
		out = append(out, domain.Section{
			Title: "Price Band Analysis",
			Blocks: []domain.Block{domain.StatBlock{Stats: []domain.Stat{
				{Label: "Highest Price", Value: domain.FormatINR(p.Highest)},
				{Label: "Lowest Price", Value: domain.FormatINR(p.Lowest)},
				{Label: "Average Price", Value: domain.FormatINR(p.Average)},
				{Label: "Price Range", Value: domain.FormatINR(p.Range())},
			}}},
		})
	}

	if m := d.Missed; m != nil && m.StrategySummary != "" {
		out = append(out, domain.Section{
			Title: "Strategic Insights",
			Blocks: []domain.Block{domain.NarrativeBlock{
				Heading: "Strategy Summary", Text: m.StrategySummary,
			}},
		})
	}

	if m := d.Missed; m != nil && len(m.Signals) > 0 {
		rows := make([][]string, 0, len(m.Signals))
		for _, s := range m.Signals {
			rows = append(rows, []string{s.Dimension, s.Name, s.Signal})
		}
		out = append(out, domain.Section{
			Title: "Affinity Signals",
			Blocks: []domain.Block{domain.TableBlock{
				Columns: []domain.Column{
					{Title: "Type", Width: 30},
					{Title: "Name", Width: 60, Wide: true},
					{Title: "Signal", Width: 80, Wide: true},
				},
				Rows: rows,
			}},
		})
	}

	if ds := d.DeptSellers; ds != nil && len(ds.Results) > 0 {
		rows := make([][]string, 0, len(ds.Results))
		for _, s := range ds.Results {
			rows = append(rows, []string{domain.FormatNumber(s.Rank), s.SellerName, domain.FormatNumber(s.ParticipationCount)})
		}
		out = append(out, domain.Section{
			Title: "Top Sellers in " + ds.Department,
			Blocks: []domain.Block{domain.TableBlock{
				Columns: []domain.Column{
					{Title: "Rank", Width: 20},
					{Title: "Seller", Width: 110, Wide: true},
					{Title: "Participations", Width: 40},
				},
				Rows: rows,
			}},
		})
	}

	if market := marketBlocks(d); len(market) > 0 {
		out = append(out, domain.Section{Title: "Market Context", Blocks: market})
	}

	if rows := FilterBids(b.SortedRows, f); len(rows) > 0 {
		if len(rows) > recentBids {
			rows = rows[:recentBids]
		}
		out = append(out, domain.Section{
			Title:  "Recent Bid History (Top 20)",
			Blocks: []domain.Block{domain.TableBlock{Columns: BidHistoryColumns, Rows: bidRows(rows)}},
		})
	}

	return out
}

func performanceStats(b *domain.BidsResponse) domain.StatBlock {
	s := b.Summary
	return domain.StatBlock{Stats: []domain.Stat{
		{Label: "Total Bids", Value: domain.FormatNumber(b.Count)},
		{Label: "Wins", Value: domain.FormatNumber(s.Win)},
		{Label: "Win Rate", Value: domain.FormatPercent(b.WinRate())},
		{Label: "Total Value", Value: domain.FormatINR(s.TotalBidValue)},
		{Label: "Qualified Bid Value", Value: domain.FormatINR(s.QualifiedBidValue)},
		{Label: "Disqualified Bid Value", Value: domain.FormatINR(s.DisqualifiedBidValue)},
		{Label: "Average Order Value", Value: domain.FormatINR(s.AverageOrderValue)},
		{Label: "Total Bids Participated", Value: domain.FormatNumber(s.TotalBidsParticipated)},
	}}
}

func marketBlocks(d *Dossier) []domain.Block {
	var blocks []domain.Block
	if d.States != nil && len(d.States.Results) > 0 {
		m := make(map[string]int, len(d.States.Results))
		for _, s := range d.States.Results {
			m[s.StateName] = s.TotalTenders
		}
		blocks = append(blocks, domain.DistributionBlock{Entries: domain.TopCounts(m, topDistribution), Unit: "tenders"})
	}
	if len(d.Categories) > 0 {
		m := make(map[string]int, len(d.Categories))
		for _, c := range d.Categories {
			m[c.Name] = c.Count
		}
		blocks = append(blocks, domain.DistributionBlock{Entries: domain.TopCounts(m, topDistribution)})
	}
	return blocks
}

// MonthlySeries orders "YYYY-MM" totals chronologically and keeps the last n
// months. Labels are rendered as "Jan 25".
func MonthlySeries(totals map[string]int, n int) []domain.LabelCount {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	out := make([]domain.LabelCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.LabelCount{Label: domain.FormatMonth(k), Count: totals[k]})
	}
	return out
}

// FilterBids applies department and date filters, keeping upstream order.
// Rows with unparseable dates are dropped only when a date range is set.
func FilterBids(rows []domain.BidRecord, f Filters) []domain.BidRecord {
	if f.Department == "" && f.DateRange == nil {
		return rows
	}
	out := make([]domain.BidRecord, 0, len(rows))
	for _, r := range rows {
		if f.Department != "" && !strings.EqualFold(strings.TrimSpace(r.Department), strings.TrimSpace(f.Department)) {
			continue
		}
		if f.DateRange != nil {
			t, ok := r.ParticipatedAt()
			if !ok || !f.DateRange.Contains(t) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func bidRows(rows []domain.BidRecord) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			domain.FormatDate(r.ParticipatedOn),
			r.OfferedItem,
			r.SellerStatus,
			r.Rank,
			domain.FormatINR(r.Price()),
			r.Organisation,
		})
	}
	return out
}
