package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenderintel/intelbidder/internal/app/report"
	"github.com/tenderintel/intelbidder/internal/domain"
)

var (
	reportFormat     string
	reportDepartment string
	reportFrom       string
	reportTo         string
	reportOutDir     string
	historyLimit     int
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportGenerateCmd)
	reportCmd.AddCommand(reportHistoryCmd)
	reportCmd.AddCommand(reportGetCmd)

	reportGenerateCmd.Flags().StringVarP(&reportFormat, "format", "f", "pdf", "Report format: pdf or json")
	reportGenerateCmd.Flags().StringVar(&reportDepartment, "department", "", "Only include bids for this department")
	reportGenerateCmd.Flags().StringVar(&reportFrom, "from", "", "Only include bids on or after this date (YYYY-MM-DD)")
	reportGenerateCmd.Flags().StringVar(&reportTo, "to", "", "Only include bids on or before this date (YYYY-MM-DD)")
	reportGenerateCmd.Flags().StringVarP(&reportOutDir, "out", "d", ".", "Directory to write the report into")
	reportGetCmd.Flags().StringVarP(&reportOutDir, "out", "d", ".", "Directory to write the report into")
	reportHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of reports to list")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and manage tender reports",
}

// ─── report generate ────────────────────────────────────────────────────────

var reportGenerateCmd = &cobra.Command{
	Use:   "generate COMPANY",
	Short: "Generate a report for a company (costs one credit)",
	Long: `Fetch the company's tender history, build the report and write it to
--out. One credit is deducted once the data has been fetched; it is
refunded if the report cannot be assembled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReportGenerate,
}

func runReportGenerate(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}
	req, err := buildRequest(strings.Join(args, " "), reportFormat, reportDepartment, reportFrom, reportTo)
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	id, err := identity(d)
	if err != nil {
		return err
	}

	art, err := d.Reports.Generate(context.Background(), id, req)
	if err != nil {
		return err
	}
	path, err := writeArtifact(reportOutDir, art.Filename, art.Data)
	if err != nil {
		return err
	}

	if ok, err := p.structured(struct {
		*report.Artifact
		Path      string `json:"path"`
		SizeBytes int    `json:"sizeBytes"`
	}{art, path, len(art.Data)}); ok {
		return err
	}

	p.printf("%s %s\n", p.paint(okStyle, "✅ Saved"), path)
	detail := formatSize(int64(len(art.Data)))
	if art.Pages > 0 {
		detail += fmt.Sprintf(", %d pages", art.Pages)
	}
	if art.Skipped > 0 {
		detail += fmt.Sprintf(", %d sections skipped", art.Skipped)
	}
	p.printf("   %s\n", p.paint(dimStyle, detail))
	remaining := fmt.Sprintf("   %d credits remaining today", art.Remaining)
	if art.Remaining < domain.LowCreditThreshold {
		remaining = p.paint(warnStyle, remaining)
	}
	p.printf("%s\n", remaining)
	return nil
}

// buildRequest validates the CLI flags into a generation request. A bare
// --to date covers the whole day.
func buildRequest(company, format, department, from, to string) (report.Request, error) {
	req := report.Request{
		Company:    company,
		Format:     domain.ReportFormat(strings.ToLower(strings.TrimSpace(format))),
		Department: strings.TrimSpace(department),
	}
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.ParseInLocation(time.DateOnly, from, time.Local); err != nil {
			return req, fmt.Errorf("--from %q: want YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if end, err = time.ParseInLocation(time.DateOnly, to, time.Local); err != nil {
			return req, fmt.Errorf("--to %q: want YYYY-MM-DD", to)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if !start.IsZero() || !end.IsZero() {
		req.DateRange = &report.DateRange{Start: start, End: end}
	}
	return req, nil
}

// writeArtifact writes data to dir/name without overwriting: an existing
// file gets a numeric suffix.
func writeArtifact(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	path := filepath.Join(dir, name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("write report: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write report: %w", err)
		}
		return path, f.Close()
	}
}

// ─── report history ─────────────────────────────────────────────────────────

var reportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List previously generated reports, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReportHistory,
}

func runReportHistory(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	id, err := identity(d)
	if err != nil {
		return err
	}

	list, err := d.Reports.History(context.Background(), id, historyLimit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.ReportRecord{}
	}
	if ok, err := p.structured(map[string]any{"reports": list, "count": len(list)}); ok {
		return err
	}
	printHistory(p, list, time.Now())
	return nil
}

func printHistory(p *printer, list []domain.ReportRecord, now time.Time) {
	if len(list) == 0 {
		p.printf("No reports yet.\n")
		p.printf("Use 'intelbidder report generate COMPANY' to create one.\n")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		rows = append(rows, []string{
			shortID(r.ID),
			domain.Truncate(r.Subject, 32),
			strings.ToUpper(string(r.Format)),
			formatSize(r.SizeBytes),
			formatAgo(r.CreatedAt, now),
		})
	}
	p.title(fmt.Sprintf("Reports (%d)", len(list)))
	p.table([]string{"ID", "COMPANY", "FORMAT", "SIZE", "CREATED"}, rows)
}

// ─── report get ─────────────────────────────────────────────────────────────

var reportGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Download a stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportGet,
}

func runReportGet(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	id, err := identity(d)
	if err != nil {
		return err
	}

	rec, err := d.Reports.Get(context.Background(), id, args[0])
	if err != nil {
		return err
	}
	path, err := writeArtifact(reportOutDir, rec.Filename, rec.Content)
	if err != nil {
		return err
	}
	if ok, err := p.structured(map[string]any{"report": rec, "path": path}); ok {
		return err
	}
	p.printf("%s %s (%s)\n", p.paint(okStyle, "✅ Saved"), path, formatSize(int64(len(rec.Content))))
	return nil
}
