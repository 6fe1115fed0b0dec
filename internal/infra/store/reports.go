package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Report History Operations ──────────────────────────────────────────────

var _ domain.ReportStore = (*DB)(nil)

// InsertReport stores a generated artifact.
func (db *DB) InsertReport(ctx context.Context, r domain.ReportRecord) error {
	_, err := db.db.ExecContext(ctx, db.rebind(`
		INSERT INTO reports (id, identity, subject, format, filename, content_type, size_bytes, pages, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.Identity, r.Subject, string(r.Format), r.Filename, r.ContentType,
		r.SizeBytes, r.Pages, r.Content, formatTS(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

// GetReport loads one report of identity including its content.
func (db *DB) GetReport(ctx context.Context, identity, id string) (*domain.ReportRecord, error) {
	var (
		r       domain.ReportRecord
		format  string
		created string
	)
	err := db.db.QueryRowContext(ctx, db.rebind(`
		SELECT id, identity, subject, format, filename, content_type, size_bytes, pages, content, created_at
		FROM reports WHERE id = ? AND identity = ?
	`), id, identity).Scan(&r.ID, &r.Identity, &r.Subject, &format, &r.Filename,
		&r.ContentType, &r.SizeBytes, &r.Pages, &r.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrReportNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	r.Format = domain.ReportFormat(format)
	r.CreatedAt, _ = parseTS(created)
	return &r, nil
}

// ListReports returns identity's reports, newest first, without content.
func (db *DB) ListReports(ctx context.Context, identity string, limit int) ([]domain.ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, db.rebind(`
		SELECT id, identity, subject, format, filename, content_type, size_bytes, pages, created_at
		FROM reports WHERE identity = ?
		ORDER BY created_at DESC LIMIT ?
	`), identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportRecord
	for rows.Next() {
		var (
			r       domain.ReportRecord
			format  string
			created string
		)
		if err := rows.Scan(&r.ID, &r.Identity, &r.Subject, &format, &r.Filename,
			&r.ContentType, &r.SizeBytes, &r.Pages, &created); err != nil {
			return nil, err
		}
		r.Format = domain.ReportFormat(format)
		r.CreatedAt, _ = parseTS(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneReports deletes reports created before the cutoff.
func (db *DB) PruneReports(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, db.rebind(`
		DELETE FROM reports WHERE created_at < ?
	`), formatTS(before))
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	return res.RowsAffected()
}
