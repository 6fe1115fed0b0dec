package report

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

var genAt = time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

func footerText(p Page) string {
	last := p.Rows[len(p.Rows)-1]
	return last.Cells[0].Text
}

// ─── Pagination ─────────────────────────────────────────────────────────────

func TestTranscribe_EmptySectionsSinglePage(t *testing.T) {
	l := Transcribe(nil, "Acme Ltd", genAt)

	if l.PageCount() != 1 {
		t.Fatalf("PageCount() = %d, want 1", l.PageCount())
	}
	if got := footerText(l.Pages[0]); got != "Page 1 of 1" {
		t.Errorf("footer = %q, want %q", got, "Page 1 of 1")
	}
	if got := l.Pages[0].Rows[0].Cells[0].Text; got != "Acme Ltd" {
		t.Errorf("title = %q, want Acme Ltd", got)
	}
	if got := l.Pages[0].Rows[1].Cells[0].Text; !strings.HasPrefix(got, "Generated on ") {
		t.Errorf("subtitle = %q, want Generated on prefix", got)
	}
}

func TestTranscribe_MultiPageFooters(t *testing.T) {
	rows := make([][]string, 120)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("row %d", i), "x"}
	}
	sections := domain.ReportSections{{
		Title: "Big Table",
		Blocks: []domain.Block{domain.TableBlock{
			Columns: []domain.Column{{Title: "Name"}, {Title: "Value"}},
			Rows:    rows,
		}},
	}}

	l := Transcribe(sections, "Acme", genAt)
	n := l.PageCount()
	if n < 2 {
		t.Fatalf("PageCount() = %d, want several pages", n)
	}
	for i, p := range l.Pages {
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i+1, p.Number)
		}
		want := fmt.Sprintf("Page %d of %d", i+1, n)
		if got := footerText(p); got != want {
			t.Errorf("page %d footer = %q, want %q", i+1, got, want)
		}
	}
}

func TestTranscribe_TableHeaderRepeatsOnNewPage(t *testing.T) {
	rows := make([][]string, 80)
	for i := range rows {
		rows[i] = []string{"a", "b"}
	}
	sections := domain.ReportSections{{Blocks: []domain.Block{domain.TableBlock{
		Columns: []domain.Column{{Title: "Left"}, {Title: "Right"}},
		Rows:    rows,
	}}}}

	l := Transcribe(sections, "Acme", genAt)
	if l.PageCount() < 2 {
		t.Fatalf("PageCount() = %d, want >= 2", l.PageCount())
	}
	first := l.Pages[1].Rows[0]
	if first.Y != NextPageTop {
		t.Errorf("continuation starts at %v, want %v", first.Y, NextPageTop)
	}
	if first.Cells[0].Text != "Left" || !first.Cells[0].Bold {
		t.Errorf("continuation first row = %+v, want bold header", first.Cells[0])
	}
}

func TestTranscribe_RowsStayAboveFooter(t *testing.T) {
	var sections domain.ReportSections
	for i := 0; i < 6; i++ {
		m := map[string]int{}
		for j := 0; j < 10; j++ {
			m[fmt.Sprintf("label %d", j)] = j + 1
		}
		sections = append(sections, domain.Section{
			Title: fmt.Sprintf("Section %d", i),
			Blocks: []domain.Block{
				domain.StatBlock{Stats: []domain.Stat{{Label: "A", Value: "1"}, {Label: "B", Value: "2"}, {Label: "C", Value: "3"}}},
				domain.DistributionBlock{Entries: domain.TopCounts(m, 0)},
				domain.NarrativeBlock{Heading: "Notes", Text: strings.Repeat("lorem ipsum dolor ", 40)},
			},
		})
	}

	l := Transcribe(sections, "Acme", genAt)
	for _, p := range l.Pages {
		prev := -1.0
		for _, r := range p.Rows[:len(p.Rows)-1] {
			if r.Y+r.Height > FooterY {
				t.Errorf("page %d row at %v+%v overlaps footer", p.Number, r.Y, r.Height)
			}
			if r.Y < prev {
				t.Errorf("page %d rows out of order: %v after %v", p.Number, r.Y, prev)
			}
			prev = r.Y + r.Height
		}
	}
}

// ─── Blocks ─────────────────────────────────────────────────────────────────

func TestTranscribe_ZeroCountDistribution(t *testing.T) {
	sections := domain.ReportSections{{Blocks: []domain.Block{domain.DistributionBlock{
		Entries: []domain.LabelCount{{Label: "A", Count: 0}, {Label: "B", Count: 0}},
	}}}}

	l := Transcribe(sections, "Acme", genAt)
	bars := 0
	for _, r := range l.Pages[0].Rows {
		for _, c := range r.Cells {
			if c.Fill != nil && c.Text == "" {
				bars++
				if c.Width != 0 {
					t.Errorf("bar width = %v, want 0", c.Width)
				}
			}
		}
	}
	if bars != 2 {
		t.Errorf("bars = %d, want 2", bars)
	}
	if len(l.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", l.Skipped)
	}
}

func TestTranscribe_BarsScaleToPeak(t *testing.T) {
	sections := domain.ReportSections{{Blocks: []domain.Block{domain.DistributionBlock{
		Entries: []domain.LabelCount{{Label: "A", Count: 10}, {Label: "B", Count: 5}},
		Unit:    "bids",
	}}}}

	l := Transcribe(sections, "Acme", genAt)
	var widths []float64
	var values []string
	for _, r := range l.Pages[0].Rows {
		if len(r.Cells) == 3 {
			widths = append(widths, r.Cells[1].Width)
			values = append(values, r.Cells[2].Text)
		}
	}
	if len(widths) != 2 || widths[0] != DistBarWidth || widths[1] != DistBarWidth/2 {
		t.Errorf("bar widths = %v, want [%v %v]", widths, DistBarWidth, DistBarWidth/2)
	}
	if len(values) != 2 || values[0] != "10 bids" {
		t.Errorf("values = %v", values)
	}
}

func TestTranscribe_SkipsMalformedBlocks(t *testing.T) {
	sections := domain.ReportSections{{
		Title: "Mixed",
		Blocks: []domain.Block{
			domain.DistributionBlock{Entries: []domain.LabelCount{{Label: "bad", Count: -1}}},
			domain.TableBlock{Columns: nil, Rows: [][]string{{"x"}}},
			domain.StatBlock{Stats: []domain.Stat{{Label: "Ok", Value: "1"}}},
			nil,
			domain.NarrativeBlock{Text: "   "},
		},
	}}

	l := Transcribe(sections, "Acme", genAt)
	if len(l.Skipped) != 2 {
		t.Fatalf("Skipped = %d, want 2", len(l.Skipped))
	}
	for _, s := range l.Skipped {
		if !errors.Is(s, domain.ErrTranscription) {
			t.Errorf("skip %v does not wrap ErrTranscription", s)
		}
	}
	if l.Skipped[0].Kind != domain.BlockDistribution || l.Skipped[1].Kind != domain.BlockTable {
		t.Errorf("skipped kinds = %s, %s", l.Skipped[0].Kind, l.Skipped[1].Kind)
	}

	found := false
	for _, r := range l.Pages[0].Rows {
		for _, c := range r.Cells {
			if c.Text == "Ok" {
				found = true
			}
		}
	}
	if !found {
		t.Error("valid stat block was not drawn")
	}
}

func TestTranscribe_TruncatesTableCells(t *testing.T) {
	long := strings.Repeat("x", 30)
	sections := domain.ReportSections{{Blocks: []domain.Block{domain.TableBlock{
		Columns: []domain.Column{{Title: "Short"}, {Title: "Wide", Wide: true}},
		Rows:    [][]string{{long, long}},
	}}}}

	l := Transcribe(sections, "Acme", genAt)
	var data Row
	for _, r := range l.Pages[0].Rows {
		if len(r.Cells) == 2 && r.Cells[0].Size == 7 {
			data = r
		}
	}
	if got, want := data.Cells[0].Text, strings.Repeat("x", 20)+"..."; got != want {
		t.Errorf("short cell = %q, want %q", got, want)
	}
	if got := data.Cells[1].Text; got != long {
		t.Errorf("wide cell = %q, want untouched", got)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func TestColumnWidths(t *testing.T) {
	tests := []struct {
		name string
		cols []domain.Column
		want []float64
	}{
		{"defaults", []domain.Column{{}, {Wide: true}}, []float64{25, 50}},
		{"explicit", []domain.Column{{Width: 40}, {Width: 60}}, []float64{40, 60}},
		{"scaled", []domain.Column{{Width: 170}, {Width: 170}}, []float64{85, 85}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ColumnWidths(tt.cols)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("width[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTruncateCell(t *testing.T) {
	tests := []struct {
		in   string
		wide bool
		want string
	}{
		{"short", false, "short"},
		{strings.Repeat("a", 20), false, strings.Repeat("a", 20)},
		{strings.Repeat("a", 21), false, strings.Repeat("a", 20) + "..."},
		{strings.Repeat("b", 51), true, strings.Repeat("b", 50) + "..."},
		{"  padded  ", false, "padded"},
	}
	for _, tt := range tests {
		if got := TruncateCell(tt.in, tt.wide); got != tt.want {
			t.Errorf("TruncateCell(%q, %v) = %q, want %q", tt.in, tt.wide, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "hello world", 20, []string{"hello world"}},
		{"breaks", "hello world again", 11, []string{"hello world", "again"}},
		{"long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"paragraphs", "one\n\ntwo", 10, []string{"one", "", "two"}},
		{"blank", "   ", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Wrap(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}
