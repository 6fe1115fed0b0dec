package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Output ─────────────────────────────────────────────────────────────────
// Every command renders through a printer: table mode is human text (styled
// on a terminal), json and yaml emit the same shapes the HTTP API returns.

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A"))
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type printer struct {
	w      io.Writer
	format string
	styled bool
}

func newPrinterFor(w io.Writer, format string, styled bool) (*printer, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", outputTable:
		format = outputTable
	case outputJSON, outputYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
	return &printer{w: w, format: format, styled: styled}, nil
}

// structured writes v as JSON or YAML and reports true, or does nothing and
// reports false in table mode.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case outputJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		// Round-trip through JSON so YAML keys match the API field names.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) paint(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) title(text string) {
	p.printf("%s\n", p.paint(titleStyle, text))
}

func (p *printer) table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	if p.styled {
		t = t.StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	}
	p.printf("%s\n", t.Render())
}

// ─── Formatting ─────────────────────────────────────────────────────────────

// bar draws a fixed-width gauge of used/total.
func bar(value, total, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = value * width / total
	}
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// formatCountdown renders a countdown as "5h 12m", or "now" when elapsed.
func formatCountdown(c domain.Countdown) string {
	if c.Hours == 0 && c.Minutes == 0 {
		return "now"
	}
	if c.Hours == 0 {
		return fmt.Sprintf("%dm", c.Minutes)
	}
	return c.String()
}

// formatSize renders a byte count, "-" when unknown.
func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// formatAgo renders t relative to now ("3 hours ago").
func formatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// sparkline renders values as block characters scaled to the peak.
func sparkline(values []int) string {
	const ticks = "▁▂▃▄▅▆▇█"
	levels := []rune(ticks)
	peak := 0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	var b strings.Builder
	for _, v := range values {
		i := 0
		if peak > 0 && v > 0 {
			i = v * (len(levels) - 1) / peak
		}
		b.WriteRune(levels[i])
	}
	return b.String()
}
