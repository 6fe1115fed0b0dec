package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Report Content ─────────────────────────────────────────────────────────
// A report is authored as ordered sections of semantic blocks, independent
// of pagination. The transcriber decides where each block lands.

// ReportSections is the ordered content of one report.
type ReportSections []Section

// Section is an optional title followed by blocks rendered in order.
type Section struct {
	Title  string  `json:"title,omitempty"`
	Blocks []Block `json:"blocks"`
}

// BlockKind names the concrete block type.
type BlockKind string

const (
	BlockStat         BlockKind = "stat"
	BlockDistribution BlockKind = "distribution"
	BlockTable        BlockKind = "table"
	BlockNarrative    BlockKind = "narrative"
)

// Block is one unit of report content. The set of implementations is closed.
type Block interface {
	Kind() BlockKind
	// Empty reports a block with nothing to draw; such blocks are skipped.
	Empty() bool
	// Validate returns an error wrapping ErrTranscription for malformed shapes.
	Validate() error
}

// Stat is one label/value card.
type Stat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// StatBlock renders as cards, two per row.
type StatBlock struct {
	Stats []Stat `json:"stats"`
}

func (StatBlock) Kind() BlockKind { return BlockStat }
func (b StatBlock) Empty() bool   { return len(b.Stats) == 0 }

func (b StatBlock) Validate() error {
	for i, s := range b.Stats {
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("stat %d: empty label: %w", i, ErrTranscription)
		}
	}
	return nil
}

// DistributionBlock renders as horizontal bars scaled to the largest count.
type DistributionBlock struct {
	Entries []LabelCount `json:"entries"`
	Unit    string       `json:"unit,omitempty"` // suffix after each value, e.g. "bids"
}

func (DistributionBlock) Kind() BlockKind { return BlockDistribution }
func (b DistributionBlock) Empty() bool   { return len(b.Entries) == 0 }

func (b DistributionBlock) Validate() error {
	for i, e := range b.Entries {
		if e.Count < 0 {
			return fmt.Errorf("entry %d (%s): negative count %d: %w", i, e.Label, e.Count, ErrTranscription)
		}
	}
	return nil
}

// Max returns the largest count, or 0.
func (b DistributionBlock) Max() int {
	m := 0
	for _, e := range b.Entries {
		if e.Count > m {
			m = e.Count
		}
	}
	return m
}

// Column describes one table column. Width is a hint in millimetres; Wide
// marks description-like columns that get the larger truncation budget.
type Column struct {
	Title string  `json:"title"`
	Width float64 `json:"width,omitempty"`
	Wide  bool    `json:"wide,omitempty"`
}

// TableBlock renders a bold header row followed by data rows.
type TableBlock struct {
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (TableBlock) Kind() BlockKind { return BlockTable }
func (b TableBlock) Empty() bool   { return len(b.Rows) == 0 }

func (b TableBlock) Validate() error {
	if len(b.Columns) == 0 {
		return fmt.Errorf("table without columns: %w", ErrTranscription)
	}
	for i, row := range b.Rows {
		if len(row) > len(b.Columns) {
			return fmt.Errorf("row %d has %d cells for %d columns: %w", i, len(row), len(b.Columns), ErrTranscription)
		}
	}
	return nil
}

// NarrativeBlock is a highlighted free-text paragraph.
type NarrativeBlock struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

func (NarrativeBlock) Kind() BlockKind { return BlockNarrative }
func (b NarrativeBlock) Empty() bool   { return strings.TrimSpace(b.Text) == "" }
func (b NarrativeBlock) Validate() error {
	return nil
}

// ─── Report Artifacts ───────────────────────────────────────────────────────

// ReportFormat is the downloadable artifact type.
type ReportFormat string

const (
	FormatPDF  ReportFormat = "pdf"
	FormatJSON ReportFormat = "json"
)

// ParseReportFormat accepts "pdf" or "json" (case-insensitive); empty is pdf.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidFormat)
	}
}

// ContentType returns the MIME type of the format.
func (f ReportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "application/pdf"
}

// ReportFilename builds "{subject}_Report_{YYYY-MM-DD}.{ext}".
// Path separators and spaces in the subject are replaced with underscores.
func ReportFilename(subject string, format ReportFormat, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(subject))
	return fmt.Sprintf("%s_Report_%s.%s", safe, at.Format(time.DateOnly), format)
}

// ReportRecord is one stored report in an identity's history.
type ReportRecord struct {
	ID          string       `json:"id"`
	Identity    string       `json:"identity"`
	Subject     string       `json:"subject"`
	Format      ReportFormat `json:"format"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	SizeBytes   int64        `json:"size_bytes"`
	Pages       int          `json:"pages,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Content     []byte       `json:"-"`
}
