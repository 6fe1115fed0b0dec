package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ─── Input & Display Formatting ─────────────────────────────────────────────

// MaxInputLength caps user-supplied search text, in runes.
const MaxInputLength = 100

// Ellipsis is appended to truncated text.
const Ellipsis = "..."

// SanitizeInput trims s, strips angle brackets and caps it at MaxInputLength.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	if utf8.RuneCountInString(s) > MaxInputLength {
		s = string([]rune(s)[:MaxInputLength])
	}
	return s
}

// ValidateCompany sanitizes a company or seller name and rejects empty input.
func ValidateCompany(raw string) (string, error) {
	name := SanitizeInput(raw)
	if name == "" {
		return "", fmt.Errorf("company name is required: %w", ErrValidation)
	}
	return name, nil
}

// Truncate keeps the first max runes of s and appends Ellipsis when s is
// longer than max.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + Ellipsis
}

// GroupIndian formats a non-negative integer string with Indian digit
// grouping: the last three digits, then groups of two (12,34,567).
func GroupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	if head != "" {
		groups = append([]string{head}, groups...)
	}
	return strings.Join(groups, ",") + "," + tail
}

// FormatNumber formats n with Indian digit grouping.
func FormatNumber(n int) string {
	if n < 0 {
		return "-" + GroupIndian(strconv.Itoa(-n))
	}
	return GroupIndian(strconv.Itoa(n))
}

// FormatINR formats an amount in whole rupees, e.g. "INR 12,34,567".
// The ASCII prefix keeps the value printable in the PDF core fonts.
func FormatINR(amount decimal.Decimal) string {
	rounded := amount.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return "INR " + sign + GroupIndian(rounded.StringFixed(0))
}

// FormatPercent formats a percentage with one decimal place.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

// FormatDate renders a bid date as "02 Jan 2006"; unparseable input is
// returned unchanged.
func FormatDate(raw string) string {
	t, ok := BidRecord{ParticipatedOn: raw}.ParticipatedAt()
	if !ok {
		return raw
	}
	return t.Format("02 Jan 2006")
}

// FormatDateTime renders a timestamp as "02 Jan 2006, 03:04 PM".
func FormatDateTime(t time.Time) string {
	return t.Format("02 Jan 2006, 03:04 PM")
}

// FormatMonth turns "2025-03" into "Mar 25"; other input is returned unchanged.
func FormatMonth(key string) string {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return key
	}
	return t.Format("Jan 06")
}
