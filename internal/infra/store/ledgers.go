package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Credit Ledger Operations ───────────────────────────────────────────────
// Every mutation is a single conditional statement. The WHERE clause carries
// the expected state, so two writers can never both succeed on the last
// credit and a reset never clobbers a newer period.

var _ domain.LedgerStore = (*DB)(nil)

// GetLedger returns the ledger for identity, or nil when none exists.
func (db *DB) GetLedger(ctx context.Context, identity string) (*domain.CreditLedger, error) {
	var (
		l       domain.CreditLedger
		resetAt string
	)
	err := db.db.QueryRowContext(ctx, db.rebind(`
		SELECT identity, total, used, reset_at
		FROM credit_ledgers WHERE identity = ?
	`), identity).Scan(&l.Identity, &l.Total, &l.Used, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", identity, err)
	}
	if l.ResetAt, err = parseTS(resetAt); err != nil {
		return nil, fmt.Errorf("ledger %s: bad reset_at %q: %w", identity, resetAt, err)
	}
	l = l.Normalize()
	return &l, nil
}

// CreateLedger inserts l unless the identity already has a ledger.
func (db *DB) CreateLedger(ctx context.Context, l domain.CreditLedger) error {
	_, err := db.db.ExecContext(ctx, db.rebind(`
		INSERT INTO credit_ledgers (identity, total, used, reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO NOTHING
	`), l.Identity, l.Total, l.Used, formatTS(l.ResetAt), formatTS(time.Now()))
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", l.Identity, err)
	}
	return nil
}

// PutLedger overwrites the ledger unconditionally. Reserved for the
// administrative override.
func (db *DB) PutLedger(ctx context.Context, l domain.CreditLedger) error {
	_, err := db.db.ExecContext(ctx, db.rebind(`
		INSERT INTO credit_ledgers (identity, total, used, reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			total      = excluded.total,
			used       = excluded.used,
			reset_at   = excluded.reset_at,
			updated_at = excluded.updated_at
	`), l.Identity, l.Total, l.Used, formatTS(l.ResetAt), formatTS(time.Now()))
	if err != nil {
		return fmt.Errorf("put ledger %s: %w", l.Identity, err)
	}
	return nil
}

// ResetLedger moves the ledger into fresh's period if its stored period still
// ends at prevResetAt.
func (db *DB) ResetLedger(ctx context.Context, identity string, prevResetAt time.Time, fresh domain.CreditLedger) (bool, error) {
	res, err := db.db.ExecContext(ctx, db.rebind(`
		UPDATE credit_ledgers
		SET total = ?, used = 0, reset_at = ?, updated_at = ?
		WHERE identity = ? AND reset_at = ?
	`), fresh.Total, formatTS(fresh.ResetAt), formatTS(time.Now()), identity, formatTS(prevResetAt))
	if err != nil {
		return false, fmt.Errorf("reset ledger %s: %w", identity, err)
	}
	return affectedOne(res)
}

// DeductCredit consumes one credit of the period ending at resetAt.
func (db *DB) DeductCredit(ctx context.Context, identity string, resetAt time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, db.rebind(`
		UPDATE credit_ledgers
		SET used = used + 1, updated_at = ?
		WHERE identity = ? AND reset_at = ? AND used < total
	`), formatTS(time.Now()), identity, formatTS(resetAt))
	if err != nil {
		return false, fmt.Errorf("deduct credit %s: %w", identity, err)
	}
	return affectedOne(res)
}

// RefundCredit returns one credit to the period ending at resetAt.
func (db *DB) RefundCredit(ctx context.Context, identity string, resetAt time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, db.rebind(`
		UPDATE credit_ledgers
		SET used = used - 1, updated_at = ?
		WHERE identity = ? AND reset_at = ? AND used > 0
	`), formatTS(time.Now()), identity, formatTS(resetAt))
	if err != nil {
		return false, fmt.Errorf("refund credit %s: %w", identity, err)
	}
	return affectedOne(res)
}

// ListExpired returns every ledger whose period ended at or before now.
func (db *DB) ListExpired(ctx context.Context, now time.Time) ([]domain.CreditLedger, error) {
	rows, err := db.db.QueryContext(ctx, db.rebind(`
		SELECT identity, total, used, reset_at
		FROM credit_ledgers WHERE reset_at <= ?
		ORDER BY identity
	`), formatTS(now))
	if err != nil {
		return nil, fmt.Errorf("list expired ledgers: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditLedger
	for rows.Next() {
		var (
			l       domain.CreditLedger
			resetAt string
		)
		if err := rows.Scan(&l.Identity, &l.Total, &l.Used, &resetAt); err != nil {
			return nil, err
		}
		if l.ResetAt, err = parseTS(resetAt); err != nil {
			return nil, fmt.Errorf("ledger %s: bad reset_at %q: %w", l.Identity, resetAt, err)
		}
		out = append(out, l.Normalize())
	}
	return out, rows.Err()
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
