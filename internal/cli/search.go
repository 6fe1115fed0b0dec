package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tenderintel/intelbidder/internal/app/insight"
	"github.com/tenderintel/intelbidder/internal/domain"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search COMPANY",
	Short: "Show a company's tender overview (free)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ov, err := d.Search.Search(context.Background(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	if ok, err := p.structured(ov); ok {
		return err
	}
	printOverview(p, ov)
	return nil
}

func printOverview(p *printer, ov *insight.Overview) {
	p.title(ov.Company)
	p.printf("  Bids %s · Won %s · Lost %s · Win rate %s\n",
		domain.FormatNumber(ov.Count),
		domain.FormatNumber(ov.Summary.Win),
		domain.FormatNumber(ov.Summary.Lost),
		domain.FormatPercent(ov.WinRate))

	if n := len(ov.MonthlyTrend); n > 0 {
		values := make([]int, n)
		for i, pt := range ov.MonthlyTrend {
			values[i] = pt.Value
		}
		p.printf("  Trend %s  %s %s\n", sparkline(values),
			p.paint(dimStyle, ov.MonthlyTrend[0].Label+" to"), p.paint(dimStyle, ov.MonthlyTrend[n-1].Label))
	}

	if ov.PriceBand != nil {
		p.printf("  Price band %s to %s (avg %s)\n",
			domain.FormatINR(ov.PriceBand.Lowest),
			domain.FormatINR(ov.PriceBand.Highest),
			domain.FormatINR(ov.PriceBand.Average))
	}

	if len(ov.States) > 0 {
		rows := make([][]string, 0, 5)
		for i, s := range ov.States {
			if i == 5 {
				break
			}
			rows = append(rows, []string{s.Label, domain.FormatNumber(s.Count)})
		}
		p.printf("\n")
		p.table([]string{"STATE", "BIDS"}, rows)
	}

	for _, w := range ov.Warnings {
		p.printf("%s\n", p.paint(warnStyle, fmt.Sprintf("⚠ %s", w)))
	}
}
