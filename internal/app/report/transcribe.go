package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Page Geometry (A4 portrait, millimetres) ───────────────────────────────

const (
	PageWidth  = 210.0
	PageHeight = 297.0
	Margin     = 10.0

	ContentLeft  = 20.0 // left edge of block content
	ContentWidth = 170.0

	FirstPageTop = 10.0 // cursor start on page 1
	NextPageTop  = 20.0 // cursor start on continuation pages

	SectionBreakAt = 250.0 // section titles start a new page below this
	StatBreakAt    = 260.0
	RowBreakAt     = 265.0 // distribution, table and narrative rows

	SectionTitleHeight = 8.0
	StatRowHeight      = 12.0
	StatColumnOffset   = 90.0
	DistRowHeight      = 5.0
	DistRowAdvance     = 7.0
	TableRowHeight     = 6.0
	NarrativeLine      = 5.0
	BlockSpacing       = 5.0
	SectionSpacing     = 5.0

	DistLabelX   = 20.0
	DistBarX     = 70.0
	DistBarWidth = 70.0
	DistValueX   = 160.0

	FooterY      = 282.0
	FooterHeight = 4.0

	// Cell truncation budgets, in runes.
	CellBudget     = 20
	WideCellBudget = 50

	narrativeWrap = 95
)

// Color is an RGB fill or text colour.
type Color struct{ R, G, B int }

var (
	colorBar       = Color{R: 37, G: 99, B: 235}
	colorHighlight = Color{R: 254, G: 249, B: 195}
	colorMuted     = Color{R: 100, G: 116, B: 139}
	colorHeading   = Color{R: 30, G: 41, B: 59}
)

// ─── Layout Model ───────────────────────────────────────────────────────────

// Align is horizontal text alignment within a cell.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Cell is one positioned element of a row.
type Cell struct {
	X, Width  float64
	Text      string
	Size      float64
	Bold      bool
	Align     Align
	TextColor *Color
	Fill      *Color // background; bars are fill-only cells
	Rule      bool   // horizontal separator line
}

// Row is a horizontal band at absolute offset Y from the page top.
type Row struct {
	Y      float64
	Height float64
	Cells  []Cell
}

// Page is one A4 page of rows. Rows are ordered by Y and never overlap.
type Page struct {
	Number int
	Rows   []Row
}

// Layout is the paginated form of a report, ready for serialization.
type Layout struct {
	Subject     string
	GeneratedAt time.Time
	Pages       []Page
	Skipped     []SkippedBlock // malformed blocks that were left out
}

// SkippedBlock records a block dropped during transcription.
type SkippedBlock struct {
	Section int
	Index   int
	Kind    domain.BlockKind
	Err     error
}

func (s SkippedBlock) Error() string {
	return fmt.Sprintf("section %d block %d (%s): %v", s.Section, s.Index, s.Kind, s.Err)
}

func (s SkippedBlock) Unwrap() error { return s.Err }

// PageCount returns the number of pages.
func (l *Layout) PageCount() int { return len(l.Pages) }

// ─── Transcription ──────────────────────────────────────────────────────────

// cursor tracks the running vertical offset while laying out pages.
type cursor struct {
	layout *Layout
	y      float64
}

func (c *cursor) page() *Page { return &c.layout.Pages[len(c.layout.Pages)-1] }

func (c *cursor) newPage() {
	c.layout.Pages = append(c.layout.Pages, Page{Number: len(c.layout.Pages) + 1})
	c.y = NextPageTop
}

// breakIfBelow starts a new page when the cursor has passed limit.
func (c *cursor) breakIfBelow(limit float64) {
	if c.y > limit {
		c.newPage()
	}
}

func (c *cursor) emit(height float64, cells ...Cell) {
	p := c.page()
	p.Rows = append(p.Rows, Row{Y: c.y, Height: height, Cells: cells})
}

// Transcribe lays sections out on A4 pages. It never fails: empty blocks are
// dropped and malformed ones are recorded in Layout.Skipped.
func Transcribe(sections domain.ReportSections, subject string, at time.Time) *Layout {
	l := &Layout{Subject: subject, GeneratedAt: at}
	c := &cursor{layout: l}
	l.Pages = append(l.Pages, Page{Number: 1})
	c.y = FirstPageTop

	c.emit(10, Cell{X: Margin, Width: PageWidth - 2*Margin, Text: subject, Size: 18, Bold: true, TextColor: &colorHeading})
	c.y += 10
	c.emit(6, Cell{X: Margin, Width: PageWidth - 2*Margin, Text: "Generated on " + domain.FormatDateTime(at), Size: 9, TextColor: &colorMuted})
	c.y += 6
	c.emit(1, Cell{X: Margin, Width: PageWidth - 2*Margin, Rule: true})
	c.y += 1 + SectionSpacing

	for si, sec := range sections {
		if sec.Title != "" {
			c.breakIfBelow(SectionBreakAt)
			c.emit(SectionTitleHeight, Cell{X: Margin, Width: PageWidth - 2*Margin, Text: sec.Title, Size: 13, Bold: true, TextColor: &colorHeading})
			c.y += SectionTitleHeight
		}

		drawn := 0
		for bi, b := range sec.Blocks {
			if b == nil || b.Empty() {
				continue
			}
			if err := b.Validate(); err != nil {
				l.Skipped = append(l.Skipped, SkippedBlock{Section: si, Index: bi, Kind: b.Kind(), Err: err})
				continue
			}
			if drawn > 0 {
				c.y += BlockSpacing
			}
			switch blk := b.(type) {
			case domain.StatBlock:
				c.stats(blk)
			case domain.DistributionBlock:
				c.distribution(blk)
			case domain.TableBlock:
				c.table(blk)
			case domain.NarrativeBlock:
				c.narrative(blk)
			default:
				l.Skipped = append(l.Skipped, SkippedBlock{Section: si, Index: bi, Kind: b.Kind(),
					Err: fmt.Errorf("unknown block type %T: %w", b, domain.ErrTranscription)})
				continue
			}
			drawn++
		}
		c.y += SectionSpacing
	}

	stampFooters(l)
	return l
}

// stampFooters writes "Page X of N" on every page once N is known.
func stampFooters(l *Layout) {
	n := len(l.Pages)
	for i := range l.Pages {
		p := &l.Pages[i]
		p.Rows = append(p.Rows, Row{
			Y:      FooterY,
			Height: FooterHeight,
			Cells: []Cell{{
				X: Margin, Width: PageWidth - 2*Margin,
				Text: fmt.Sprintf("Page %d of %d", p.Number, n), Size: 8, Align: AlignCenter, TextColor: &colorMuted,
			}},
		})
	}
}

// ─── Blocks ─────────────────────────────────────────────────────────────────

func (c *cursor) stats(b domain.StatBlock) {
	for i := 0; i < len(b.Stats); i += 2 {
		c.breakIfBelow(StatBreakAt)
		pair := b.Stats[i:min(i+2, len(b.Stats))]

		labels := make([]Cell, 0, 2)
		values := make([]Cell, 0, 2)
		for j, s := range pair {
			x := ContentLeft + float64(j)*StatColumnOffset
			labels = append(labels, Cell{X: x, Width: 85, Text: s.Label, Size: 9, TextColor: &colorMuted})
			values = append(values, Cell{X: x, Width: 85, Text: s.Value, Size: 12, Bold: true})
		}
		c.emit(5, labels...)
		c.y += 5
		c.emit(StatRowHeight-5, values...)
		c.y += StatRowHeight - 5
	}
}

func (c *cursor) distribution(b domain.DistributionBlock) {
	peak := b.Max()
	for _, e := range b.Entries {
		c.breakIfBelow(RowBreakAt)

		width := 0.0
		if peak > 0 {
			width = float64(e.Count) / float64(peak) * DistBarWidth
		}
		value := domain.FormatNumber(e.Count)
		if b.Unit != "" {
			value += " " + b.Unit
		}
		c.emit(DistRowHeight,
			Cell{X: DistLabelX, Width: DistBarX - DistLabelX - 2, Text: domain.Truncate(e.Label, 25), Size: 9},
			Cell{X: DistBarX, Width: width, Fill: &colorBar},
			Cell{X: DistValueX, Width: PageWidth - Margin - DistValueX, Text: value, Size: 9, Align: AlignRight},
		)
		c.y += DistRowAdvance
	}
}

// ColumnWidths resolves width hints: unset widths default to 50mm for wide
// columns and 25mm otherwise, and the whole set is scaled down to fit
// ContentWidth.
func ColumnWidths(cols []domain.Column) []float64 {
	widths := make([]float64, len(cols))
	sum := 0.0
	for i, col := range cols {
		w := col.Width
		if w <= 0 {
			w = 25
			if col.Wide {
				w = 50
			}
		}
		widths[i] = w
		sum += w
	}
	if sum > ContentWidth {
		scale := ContentWidth / sum
		for i := range widths {
			widths[i] *= scale
		}
	}
	return widths
}

// TruncateCell applies the fixed cell budget for a column.
func TruncateCell(s string, wide bool) string {
	budget := CellBudget
	if wide {
		budget = WideCellBudget
	}
	return domain.Truncate(strings.TrimSpace(s), budget)
}

func (c *cursor) table(b domain.TableBlock) {
	widths := ColumnWidths(b.Columns)
	total := 0.0
	for _, w := range widths {
		total += w
	}

	header := func() {
		cells := make([]Cell, len(b.Columns))
		x := ContentLeft
		for i, col := range b.Columns {
			cells[i] = Cell{X: x, Width: widths[i], Text: col.Title, Size: 8, Bold: true}
			x += widths[i]
		}
		c.emit(TableRowHeight, cells...)
		c.y += TableRowHeight
		c.emit(1, Cell{X: ContentLeft, Width: total, Rule: true})
		c.y++
	}

	c.breakIfBelow(RowBreakAt)
	header()
	for _, row := range b.Rows {
		if c.y > RowBreakAt {
			c.newPage()
			header()
		}
		cells := make([]Cell, 0, len(b.Columns))
		x := ContentLeft
		for i, col := range b.Columns {
			text := ""
			if i < len(row) {
				text = TruncateCell(row[i], col.Wide)
			}
			cells = append(cells, Cell{X: x, Width: widths[i], Text: text, Size: 7})
			x += widths[i]
		}
		c.emit(TableRowHeight, cells...)
		c.y += TableRowHeight
	}
}

func (c *cursor) narrative(b domain.NarrativeBlock) {
	if b.Heading != "" {
		c.breakIfBelow(RowBreakAt)
		c.emit(6, Cell{X: ContentLeft, Width: ContentWidth, Text: b.Heading, Size: 10, Bold: true})
		c.y += 6
	}
	for _, line := range Wrap(b.Text, narrativeWrap) {
		c.breakIfBelow(RowBreakAt)
		c.emit(NarrativeLine, Cell{X: ContentLeft, Width: ContentWidth, Text: line, Size: 9, Fill: &colorHighlight})
		c.y += NarrativeLine
	}
}

// Wrap breaks text into lines of at most width runes on word boundaries.
// Words longer than width are split. Blank lines in the input are kept.
func Wrap(text string, width int) []string {
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			if len(out) > 0 {
				out = append(out, "")
			}
			continue
		}
		line := ""
		for _, w := range words {
			for utf8.RuneCountInString(w) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(w)
				out = append(out, string(r[:width]))
				w = string(r[width:])
			}
			switch {
			case line == "":
				line = w
			case utf8.RuneCountInString(line)+1+utf8.RuneCountInString(w) <= width:
				line += " " + w
			default:
				out = append(out, line)
				line = w
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	// Trailing blank lines add nothing.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
