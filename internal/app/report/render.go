package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Renderer serializes a laid-out report.
type Renderer interface {
	Render(l *Layout) ([]byte, error)
}

// gridSize makes one maroto grid unit equal one millimetre of content width.
const gridSize = int(PageWidth - 2*Margin)

// PDFRenderer writes layouts as PDF through maroto. Each layout page becomes
// an explicit maroto page; vertical offsets are reproduced with spacer rows so
// maroto never paginates on its own.
type PDFRenderer struct {
	Author string
}

// Render implements Renderer.
func (r PDFRenderer) Render(l *Layout) ([]byte, error) {
	author := r.Author
	if author == "" {
		author = "Intel Bidder"
	}
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithOrientation(orientation.Vertical).
		WithLeftMargin(Margin).
		WithTopMargin(Margin).
		WithRightMargin(Margin).
		WithBottomMargin(Margin).
		WithMaxGridSize(gridSize).
		WithTitle(l.Subject+" Report", true).
		WithAuthor(author, true).
		WithCreationDate(l.GeneratedAt).
		Build()

	m := maroto.New(cfg)
	pages := make([]core.Page, 0, len(l.Pages))
	for _, p := range l.Pages {
		pages = append(pages, page.New().Add(pageRows(p)...))
	}
	m.AddPages(pages...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

// pageRows converts absolute rows into maroto's stacked rows.
func pageRows(p Page) []core.Row {
	rows := make([]Row, len(p.Rows))
	copy(rows, p.Rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Y < rows[j].Y })

	out := make([]core.Row, 0, len(rows)*2)
	y := Margin
	for _, r := range rows {
		if gap := r.Y - y; gap > 0.01 {
			out = append(out, row.New(gap))
			y = r.Y
		}
		out = append(out, row.New(r.Height).Add(rowCols(r)...))
		y += r.Height
	}
	return out
}

// rowCols converts positioned cells into grid columns, inserting empty
// columns for horizontal gaps.
func rowCols(r Row) []core.Col {
	cells := make([]Cell, len(r.Cells))
	copy(cells, r.Cells)
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].X < cells[j].X })

	var cols []core.Col
	used := 0
	for _, c := range cells {
		start := int(math.Round(c.X - Margin))
		if start >= gridSize {
			continue
		}
		if start > used {
			cols = append(cols, col.New(start-used))
			used = start
		}
		width := int(math.Round(c.Width))
		if c.Fill != nil && c.Text == "" && c.Width > 0 && width == 0 {
			width = 1 // keep non-zero bars visible
		}
		if used+width > gridSize {
			width = gridSize - used
		}
		if width <= 0 {
			continue
		}
		cols = append(cols, cellCol(c, width))
		used += width
	}
	return cols
}

func cellCol(c Cell, width int) core.Col {
	column := col.New(width)
	switch {
	case c.Rule:
		column.Add(line.New(props.Line{Thickness: 0.3}))
	case c.Text != "":
		column.Add(text.New(c.Text, textProps(c)))
	}
	if c.Fill != nil {
		column.WithStyle(&props.Cell{BackgroundColor: toColor(c.Fill)})
	}
	return column
}

func textProps(c Cell) props.Text {
	p := props.Text{Size: c.Size, Top: 0.8, Left: 0.5}
	if c.Bold {
		p.Style = fontstyle.Bold
	}
	switch c.Align {
	case AlignCenter:
		p.Align = align.Center
	case AlignRight:
		p.Align = align.Right
	default:
		p.Align = align.Left
	}
	if c.TextColor != nil {
		p.Color = toColor(c.TextColor)
	}
	return p
}

func toColor(c *Color) *props.Color {
	return &props.Color{Red: c.R, Green: c.G, Blue: c.B}
}
