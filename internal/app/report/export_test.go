package report

import (
	"encoding/json"
	"testing"

	"github.com/tenderintel/intelbidder/internal/domain"
)

func TestExportJSON(t *testing.T) {
	d := sampleDossier()
	sections := Build(d, Filters{Department: "Railways"})
	sections = append(sections, domain.Section{
		Title:  "Broken",
		Blocks: []domain.Block{domain.DistributionBlock{Entries: []domain.LabelCount{{Label: "x", Count: -2}}}},
	})

	data, err := ExportJSON(d, sections, Filters{Department: "Railways"}, genAt)
	if err != nil {
		t.Fatalf("ExportJSON() error: %v", err)
	}

	var doc struct {
		Subject string `json:"subject"`
		Filters *struct {
			Department string `json:"department"`
		} `json:"filters"`
		Sections []struct {
			Title  string `json:"title"`
			Blocks []struct {
				Kind string `json:"kind"`
			} `json:"blocks"`
		} `json:"sections"`
		Data struct {
			Company string `json:"company"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.Subject != "Acme Ltd" || doc.Data.Company != "Acme Ltd" {
		t.Errorf("subject = %q, data.company = %q", doc.Subject, doc.Data.Company)
	}
	if doc.Filters == nil || doc.Filters.Department != "Railways" {
		t.Errorf("filters = %+v", doc.Filters)
	}
	if len(doc.Sections) != len(sections) {
		t.Fatalf("sections = %d, want %d", len(doc.Sections), len(sections))
	}
	if k := doc.Sections[0].Blocks[0].Kind; k != string(domain.BlockStat) {
		t.Errorf("first block kind = %q, want stat", k)
	}
	if last := doc.Sections[len(doc.Sections)-1]; len(last.Blocks) != 0 {
		t.Errorf("malformed block exported: %+v", last)
	}
}

func TestExportJSON_NoFilters(t *testing.T) {
	data, err := ExportJSON(sampleDossier(), nil, Filters{}, genAt)
	if err != nil {
		t.Fatalf("ExportJSON() error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := doc["filters"]; ok {
		t.Error("filters present without any filter set")
	}
}
