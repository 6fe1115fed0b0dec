package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore persists credit ledgers keyed by identity.
type LedgerStore interface {
	// GetLedger returns nil, nil when the identity has no ledger yet.
	GetLedger(ctx context.Context, identity string) (*CreditLedger, error)

	// CreateLedger inserts l unless a ledger for the identity already exists.
	CreateLedger(ctx context.Context, l CreditLedger) error

	// PutLedger overwrites the stored ledger. Administrative use only.
	PutLedger(ctx context.Context, l CreditLedger) error

	// ResetLedger starts a new period only if the stored period still ends at
	// prevResetAt. Returns false when another writer got there first.
	ResetLedger(ctx context.Context, identity string, prevResetAt time.Time, fresh CreditLedger) (bool, error)

	// DeductCredit consumes one credit in the period ending at resetAt.
	// Returns false when the ledger is exhausted or the period changed.
	DeductCredit(ctx context.Context, identity string, resetAt time.Time) (bool, error)

	// RefundCredit returns one credit to the period ending at resetAt.
	RefundCredit(ctx context.Context, identity string, resetAt time.Time) (bool, error)

	// ListExpired returns ledgers whose period ended at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]CreditLedger, error)
}

// ReportStore persists generated report artifacts.
type ReportStore interface {
	InsertReport(ctx context.Context, r ReportRecord) error
	GetReport(ctx context.Context, identity, id string) (*ReportRecord, error)
	ListReports(ctx context.Context, identity string, limit int) ([]ReportRecord, error)
	PruneReports(ctx context.Context, before time.Time) (int64, error)
}

// TenderSource abstracts the upstream tender-data API.
type TenderSource interface {
	Bids(ctx context.Context, company string) (*BidsResponse, error)
	PriceBand(ctx context.Context, company string) (*PriceBand, error)
	TopStates(ctx context.Context) (*StatesResponse, error)
	Departments(ctx context.Context) ([]Department, error)
	TopSellersByDept(ctx context.Context, department string, limit int) (*DepartmentResponse, error)
	Categories(ctx context.Context) ([]Category, error)
	MissedWinnable(ctx context.Context, seller string, limit, perItem int) (*MissedWinnable, error)
}
