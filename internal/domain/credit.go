package domain

import (
	"strconv"
	"time"
)

// ─── Credit Types ───────────────────────────────────────────────────────────
// A ledger rations report generation per identity and per period.
// The period boundary is local midnight in the configured zone.

// DailyCredits is the default allocation per period.
const DailyCredits = 10

// LowCreditThreshold is the remaining balance below which a ledger is "low".
const LowCreditThreshold = 3

// LedgerState classifies a ledger within its period.
type LedgerState string

const (
	LedgerActive    LedgerState = "ACTIVE"
	LedgerExhausted LedgerState = "EXHAUSTED"
)

// CreditLedger is the persisted quota for one identity.
// Invariant: 0 <= Used <= Total and Remaining == Total - Used.
type CreditLedger struct {
	Identity  string    `json:"identity,omitempty"`
	Total     int       `json:"total"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// NewLedger returns a fresh ledger whose period ends at the next midnight
// strictly after now, in now's location.
func NewLedger(identity string, total int, now time.Time) CreditLedger {
	if total < 0 {
		total = 0
	}
	return CreditLedger{
		Identity:  identity,
		Total:     total,
		Used:      0,
		Remaining: total,
		ResetAt:   NextMidnight(now),
	}
}

// NextMidnight returns the first midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Normalize clamps Used into [0, Total] and recomputes Remaining.
func (l CreditLedger) Normalize() CreditLedger {
	if l.Total < 0 {
		l.Total = 0
	}
	if l.Used < 0 {
		l.Used = 0
	}
	if l.Used > l.Total {
		l.Used = l.Total
	}
	l.Remaining = l.Total - l.Used
	return l
}

// Expired reports whether the period has ended at now.
func (l CreditLedger) Expired(now time.Time) bool {
	return !now.Before(l.ResetAt)
}

// State returns ACTIVE or EXHAUSTED.
func (l CreditLedger) State() LedgerState {
	if l.Remaining > 0 {
		return LedgerActive
	}
	return LedgerExhausted
}

// Low reports whether the balance warrants a low-credit warning.
func (l CreditLedger) Low() bool {
	return l.Remaining < LowCreditThreshold
}

// Deduct consumes one credit. The receiver is never modified.
func (l CreditLedger) Deduct() (CreditLedger, error) {
	if l.Remaining <= 0 {
		return l, ErrNoCreditsRemaining
	}
	l.Used++
	l.Remaining--
	return l, nil
}

// Countdown is the time left in the current period.
type Countdown struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// String renders the countdown as "5h 12m".
func (c Countdown) String() string {
	return strconv.Itoa(c.Hours) + "h " + strconv.Itoa(c.Minutes) + "m"
}

// TimeUntilReset decomposes ResetAt-now into whole hours and minutes.
// Partial minutes are dropped. Returns {0,0} once the boundary has passed.
func (l CreditLedger) TimeUntilReset(now time.Time) Countdown {
	d := l.ResetAt.Sub(now)
	if d <= 0 {
		return Countdown{}
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return Countdown{Hours: hours, Minutes: minutes}
}
