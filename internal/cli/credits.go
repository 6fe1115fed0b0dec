package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenderintel/intelbidder/internal/domain"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsShowCmd)
	creditsCmd.AddCommand(creditsResetCmd)
}

// creditsView mirrors the GET /api/credits response.
type creditsView struct {
	Identity  string             `json:"identity"`
	Total     int                `json:"total"`
	Used      int                `json:"used"`
	Remaining int                `json:"remaining"`
	ResetAt   time.Time          `json:"resetAt"`
	State     domain.LedgerState `json:"state"`
	Countdown domain.Countdown   `json:"countdown"`
	Low       bool               `json:"low"`
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show or reset the daily credit ledger",
	Args:  cobra.NoArgs,
	RunE:  runCreditsShow,
}

// ─── credits show ───────────────────────────────────────────────────────────

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show remaining credits and time until reset",
	Args:  cobra.NoArgs,
	RunE:  runCreditsShow,
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
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

	l, err := d.Credits.Load(context.Background(), id)
	if err != nil {
		return err
	}
	return printCredits(p, id, l, d.Credits.TimeUntilReset(l))
}

// ─── credits reset ──────────────────────────────────────────────────────────

var creditsResetCmd = &cobra.Command{
	Use:   "reset [IDENTITY]",
	Short: "Restore a full allocation (administrative override)",
	Long: `Restore a full daily allocation for IDENTITY, or for the current identity
when none is given. The next reset stays at the coming local midnight.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreditsReset,
}

func runCreditsReset(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	id := ""
	if len(args) == 1 {
		id = args[0]
		if !validIdentity(id) {
			return fmt.Errorf("invalid identity %q", id)
		}
	} else if id, err = identity(d); err != nil {
		return err
	}

	l, err := d.Credits.AdminReset(context.Background(), id)
	if err != nil {
		return err
	}
	if p.format == outputTable {
		p.printf("%s\n", p.paint(okStyle, fmt.Sprintf("✅ Credits reset for %s", id)))
	}
	return printCredits(p, id, l, d.Credits.TimeUntilReset(l))
}

func printCredits(p *printer, id string, l domain.CreditLedger, cd domain.Countdown) error {
	view := creditsView{
		Identity:  id,
		Total:     l.Total,
		Used:      l.Used,
		Remaining: l.Remaining,
		ResetAt:   l.ResetAt,
		State:     l.State(),
		Countdown: cd,
		Low:       l.Low(),
	}
	if ok, err := p.structured(view); ok {
		return err
	}

	style := okStyle
	switch {
	case view.State == domain.LedgerExhausted:
		style = errStyle
	case view.Low:
		style = warnStyle
	}

	p.title("Credits · " + id)
	p.printf("  %s  %d/%d remaining\n", p.paint(style, bar(view.Remaining, view.Total, 20)), view.Remaining, view.Total)
	p.printf("  Resets in %s %s\n", formatCountdown(cd),
		p.paint(dimStyle, "("+view.ResetAt.Format("Mon 2 Jan 15:04 MST")+")"))
	if view.State == domain.LedgerExhausted {
		p.printf("  %s\n", p.paint(errStyle, "No credits remaining. Credits reset at midnight."))
	} else if view.Low {
		p.printf("  %s\n", p.paint(warnStyle, "Running low on credits."))
	}
	return nil
}
