package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// jsonBlock tags a block with its kind so consumers can dispatch on it.
type jsonBlock struct {
	Kind    domain.BlockKind `json:"kind"`
	Content domain.Block     `json:"content"`
}

type jsonSection struct {
	Title  string      `json:"title,omitempty"`
	Blocks []jsonBlock `json:"blocks"`
}

type jsonReport struct {
	Subject     string        `json:"subject"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Filters     *jsonFilters  `json:"filters,omitempty"`
	Sections    []jsonSection `json:"sections"`
	Data        *Dossier      `json:"data"`
}

type jsonFilters struct {
	Department string     `json:"department,omitempty"`
	DateRange  *DateRange `json:"dateRange,omitempty"`
}

// ExportJSON renders the report as an indented JSON document carrying both
// the semantic sections and the raw dossier they were built from.
func ExportJSON(d *Dossier, sections domain.ReportSections, f Filters, at time.Time) ([]byte, error) {
	doc := jsonReport{
		Subject:     d.Company,
		GeneratedAt: at,
		Sections:    make([]jsonSection, 0, len(sections)),
		Data:        d,
	}
	if f.Department != "" || f.DateRange != nil {
		doc.Filters = &jsonFilters{Department: f.Department, DateRange: f.DateRange}
	}
	for _, s := range sections {
		js := jsonSection{Title: s.Title, Blocks: make([]jsonBlock, 0, len(s.Blocks))}
		for _, b := range s.Blocks {
			if b == nil || b.Empty() || b.Validate() != nil {
				continue
			}
			js.Blocks = append(js.Blocks, jsonBlock{Kind: b.Kind(), Content: b})
		}
		doc.Sections = append(doc.Sections, js)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json report: %w", err)
	}
	return data, nil
}
