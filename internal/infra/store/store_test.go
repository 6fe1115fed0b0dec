package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

// ─── Credit Ledgers ─────────────────────────────────────────────────────────

func TestGetLedger_NotFound(t *testing.T) {
	db := newTestDB(t)
	l, err := db.GetLedger(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetLedger() error: %v", err)
	}
	if l != nil {
		t.Errorf("GetLedger(nobody) = %+v, want nil", l)
	}
}

func TestCreateLedger_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := domain.NewLedger("alice", 10, t0)

	if err := db.CreateLedger(ctx, want); err != nil {
		t.Fatalf("CreateLedger() error: %v", err)
	}
	got, err := db.GetLedger(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("ledger not persisted")
	}
	if got.Total != 10 || got.Used != 0 || got.Remaining != 10 {
		t.Errorf("ledger = %+v, want 10/0/10", got)
	}
	if !got.ResetAt.Equal(want.ResetAt) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, want.ResetAt)
	}
}

func TestCreateLedger_DoesNotOverwrite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("alice", 10, t0)
	db.CreateLedger(ctx, l)
	db.DeductCredit(ctx, "alice", l.ResetAt)

	if err := db.CreateLedger(ctx, l); err != nil {
		t.Fatalf("second CreateLedger() error: %v", err)
	}
	got, _ := db.GetLedger(ctx, "alice")
	if got.Used != 1 {
		t.Errorf("Used = %d, want 1 (existing ledger kept)", got.Used)
	}
}

func TestDeductCredit_UntilExhausted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("bob", 3, t0)
	db.CreateLedger(ctx, l)

	for i := 0; i < 3; i++ {
		ok, err := db.DeductCredit(ctx, "bob", l.ResetAt)
		if err != nil || !ok {
			t.Fatalf("deduct %d = %v, %v; want true", i, ok, err)
		}
	}
	ok, err := db.DeductCredit(ctx, "bob", l.ResetAt)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("deduct on exhausted ledger succeeded")
	}
	got, _ := db.GetLedger(ctx, "bob")
	if got.Used != 3 || got.Remaining != 0 {
		t.Errorf("ledger = %+v, want used 3 remaining 0", got)
	}
}

func TestDeductCredit_StalePeriod(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("carol", 10, t0)
	db.CreateLedger(ctx, l)

	ok, err := db.DeductCredit(ctx, "carol", l.ResetAt.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("deduct against an old period should not apply")
	}
}

func TestDeductCredit_ConcurrentLastCredit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("dave", 1, t0)
	db.CreateLedger(ctx, l)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.DeductCredit(ctx, "dave", l.ResetAt)
			if err != nil {
				t.Errorf("DeductCredit() error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	got, _ := db.GetLedger(ctx, "dave")
	if got.Used != 1 || got.Remaining != 0 {
		t.Errorf("ledger = %+v, want used 1 remaining 0", got)
	}
}

func TestRefundCredit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("erin", 10, t0)
	db.CreateLedger(ctx, l)

	ok, _ := db.RefundCredit(ctx, "erin", l.ResetAt)
	if ok {
		t.Error("refund with nothing used should not apply")
	}

	db.DeductCredit(ctx, "erin", l.ResetAt)
	ok, err := db.RefundCredit(ctx, "erin", l.ResetAt)
	if err != nil || !ok {
		t.Fatalf("RefundCredit() = %v, %v; want true", ok, err)
	}
	got, _ := db.GetLedger(ctx, "erin")
	if got.Used != 0 || got.Remaining != 10 {
		t.Errorf("ledger = %+v, want used 0", got)
	}
}

func TestResetLedger_Conditional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("frank", 10, t0)
	db.CreateLedger(ctx, l)
	db.DeductCredit(ctx, "frank", l.ResetAt)
	db.DeductCredit(ctx, "frank", l.ResetAt)

	fresh := domain.NewLedger("frank", 10, l.ResetAt)
	ok, err := db.ResetLedger(ctx, "frank", l.ResetAt, fresh)
	if err != nil || !ok {
		t.Fatalf("ResetLedger() = %v, %v; want true", ok, err)
	}

	// Redundant reset with the old boundary is a no-op.
	ok, err = db.ResetLedger(ctx, "frank", l.ResetAt, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second reset with stale boundary applied")
	}

	got, _ := db.GetLedger(ctx, "frank")
	if got.Used != 0 || got.Remaining != 10 {
		t.Errorf("ledger = %+v, want fresh", got)
	}
	if !got.ResetAt.Equal(fresh.ResetAt) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, fresh.ResetAt)
	}
}

func TestPutLedger_Overwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := domain.NewLedger("gina", 10, t0)
	db.CreateLedger(ctx, l)
	db.DeductCredit(ctx, "gina", l.ResetAt)

	over := domain.NewLedger("gina", 20, t0.Add(48*time.Hour))
	if err := db.PutLedger(ctx, over); err != nil {
		t.Fatalf("PutLedger() error: %v", err)
	}
	got, _ := db.GetLedger(ctx, "gina")
	if got.Total != 20 || got.Used != 0 {
		t.Errorf("ledger = %+v, want total 20 used 0", got)
	}
}

func TestListExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	old := domain.NewLedger("old", 10, t0.Add(-48*time.Hour))
	cur := domain.NewLedger("cur", 10, t0)
	db.CreateLedger(ctx, old)
	db.CreateLedger(ctx, cur)

	expired, err := db.ListExpired(ctx, t0)
	if err != nil {
		t.Fatalf("ListExpired() error: %v", err)
	}
	if len(expired) != 1 || expired[0].Identity != "old" {
		t.Errorf("expired = %+v, want only old", expired)
	}

	// At the boundary itself the period has ended.
	expired, _ = db.ListExpired(ctx, cur.ResetAt)
	if len(expired) != 2 {
		t.Errorf("len(expired at boundary) = %d, want 2", len(expired))
	}
}

// ─── Reports ────────────────────────────────────────────────────────────────

func testRecord(id, identity string, at time.Time) domain.ReportRecord {
	content := []byte("%PDF-1.3 test")
	return domain.ReportRecord{
		ID:          id,
		Identity:    identity,
		Subject:     "Acme Corp",
		Format:      domain.FormatPDF,
		Filename:    domain.ReportFilename("Acme Corp", domain.FormatPDF, at),
		ContentType: domain.FormatPDF.ContentType(),
		SizeBytes:   int64(len(content)),
		Pages:       2,
		CreatedAt:   at,
		Content:     content,
	}
}

func TestInsertAndGetReport(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := testRecord("r1", "alice", t0)
	if err := db.InsertReport(ctx, rec); err != nil {
		t.Fatalf("InsertReport() error: %v", err)
	}

	got, err := db.GetReport(ctx, "alice", "r1")
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if string(got.Content) != string(rec.Content) {
		t.Errorf("Content = %q, want %q", got.Content, rec.Content)
	}
	if got.Filename != "Acme_Corp_Report_2025-03-14.pdf" {
		t.Errorf("Filename = %q", got.Filename)
	}
	if got.Pages != 2 || got.Format != domain.FormatPDF {
		t.Errorf("record = %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
}

func TestGetReport_OtherIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertReport(ctx, testRecord("r1", "alice", t0))

	_, err := db.GetReport(ctx, "mallory", "r1")
	if !errors.Is(err, domain.ErrReportNotFound) {
		t.Errorf("err = %v, want ErrReportNotFound", err)
	}
}

func TestListReports_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertReport(ctx, testRecord("r1", "alice", t0))
	db.InsertReport(ctx, testRecord("r2", "alice", t0.Add(time.Hour)))
	db.InsertReport(ctx, testRecord("r3", "alice", t0.Add(-time.Hour)))
	db.InsertReport(ctx, testRecord("x1", "bob", t0))

	list, err := db.ListReports(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListReports() error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"r2", "r1", "r3"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d].ID = %s, want %s", i, list[i].ID, id)
		}
		if list[i].Content != nil {
			t.Errorf("list[%d] carries content", i)
		}
	}

	limited, _ := db.ListReports(ctx, "alice", 1)
	if len(limited) != 1 || limited[0].ID != "r2" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestPruneReports(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertReport(ctx, testRecord("old", "alice", t0.Add(-31*24*time.Hour)))
	db.InsertReport(ctx, testRecord("new", "alice", t0))

	n, err := db.PruneReports(ctx, t0.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneReports() error: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	list, _ := db.ListReports(ctx, "alice", 10)
	if len(list) != 1 || list[0].ID != "new" {
		t.Errorf("remaining = %+v", list)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func TestRebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = ?", "WHERE a = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		if got := Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrations_DialectBlob(t *testing.T) {
	contains := func(stmts []string, sub string) bool {
		for _, s := range stmts {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
	if !contains(Migrations(DialectSQLite), "BLOB") {
		t.Error("sqlite schema should use BLOB")
	}
	if !contains(Migrations(DialectPostgres), "BYTEA") {
		t.Error("postgres schema should use BYTEA")
	}
}

func TestOpenDriver_Unknown(t *testing.T) {
	if _, err := OpenDriver("mysql", t.TempDir(), ""); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := OpenDriver("postgres", t.TempDir(), ""); err == nil {
		t.Error("expected error for postgres without URL")
	}
}
