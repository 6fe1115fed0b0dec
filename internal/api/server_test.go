package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tenderintel/intelbidder/internal/app/credit"
	"github.com/tenderintel/intelbidder/internal/app/insight"
	"github.com/tenderintel/intelbidder/internal/app/report"
	"github.com/tenderintel/intelbidder/internal/domain"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
	"github.com/tenderintel/intelbidder/internal/infra/store"
)

// ─── Fixtures ───────────────────────────────────────────────────────────────

type stubSource struct {
	bidsErr error
}

func (s *stubSource) Bids(ctx context.Context, company string) (*domain.BidsResponse, error) {
	if s.bidsErr != nil {
		return nil, s.bidsErr
	}
	return &domain.BidsResponse{
		Count:           2,
		DepartmentCount: map[string]int{"Railways": 2},
		StateCount:      map[string]int{"Kerala": 2},
		MonthlyTotals:   map[string]int{"2025-01": 2},
		SortedRows: []domain.BidRecord{
			{OfferedItem: "Clips", ParticipatedOn: "2025-01-10", SellerStatus: "Win", TotalPrice: "1000", Department: "Railways"},
		},
		Summary: domain.BidSummary{Win: 1, Lost: 1, TotalBidValue: decimal.NewFromInt(2000)},
	}, nil
}

func (s *stubSource) PriceBand(ctx context.Context, company string) (*domain.PriceBand, error) {
	return &domain.PriceBand{Highest: decimal.NewFromInt(1000), Lowest: decimal.NewFromInt(500), Average: decimal.NewFromInt(750)}, nil
}

func (s *stubSource) TopStates(ctx context.Context) (*domain.StatesResponse, error) {
	return &domain.StatesResponse{Results: []domain.StatePerformance{{StateName: "Kerala", TotalTenders: 10}}}, nil
}

func (s *stubSource) Departments(ctx context.Context) ([]domain.Department, error) {
	return []domain.Department{{Name: "Railways", TotalTenders: "10"}}, nil
}

func (s *stubSource) TopSellersByDept(ctx context.Context, department string, limit int) (*domain.DepartmentResponse, error) {
	return nil, domain.ErrUpstreamDataMissing
}

func (s *stubSource) Categories(ctx context.Context) ([]domain.Category, error) {
	return []domain.Category{{Name: "Hardware", Count: 3}}, nil
}

func (s *stubSource) MissedWinnable(ctx context.Context, seller string, limit, perItem int) (*domain.MissedWinnable, error) {
	return nil, domain.ErrUpstreamDataMissing
}

type testEnv struct {
	srv *Server
	h   http.Handler
	src *stubSource
}

func newTestEnv(t *testing.T, configure func(*Server)) *testEnv {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cc := credit.DefaultConfig()
	cc.Location = time.UTC
	cc.DailyCredits = 2
	credits := credit.NewService(db, cc, logger)

	src := &stubSource{}
	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	reports := report.NewService(report.DefaultConfig(), credits, src, db, tracer, logger)
	search := insight.NewService(src, tracer, 0, logger)

	srv := NewServer(credits, reports, search, logger)
	srv.SetTracer(tracer)
	if configure != nil {
		configure(srv)
	}
	return &testEnv{srv: srv, h: srv.Handler(), src: src}
}

func (e *testEnv) do(method, path, identity string, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if identity != "" {
		req.Header.Set(IdentityHeader, identity)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e
}

// ─── Health ─────────────────────────────────────────────────────────────────

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, func(s *Server) { s.SetVersion("1.2.3") })

	if w := env.do(http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", w.Code)
	}
	w := env.do(http.MethodGet, "/api/version", "", "")
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp["version"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(http.MethodGet, "/metrics", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("/metrics without EnableMetrics = %d, want 404", w.Code)
	}

	env = newTestEnv(t, func(s *Server) { s.EnableMetrics() })
	env.do(http.MethodGet, "/health", "", "")
	w := env.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "intelbidder_http_requests_total") {
		t.Error("request counter missing from /metrics")
	}
}

// ─── Credits ────────────────────────────────────────────────────────────────

func TestCredits_DefaultIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/credits", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp creditsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.Remaining != 2 || resp.State != domain.LedgerActive {
		t.Errorf("credits = %+v", resp)
	}
	if !resp.Low {
		t.Error("2 remaining should be flagged low")
	}
}

func TestCredits_InvalidIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/api/credits", "bad identity!", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/companies/search?q=Acme+Ltd", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var ov insight.Overview
	json.Unmarshal(w.Body.Bytes(), &ov)
	if ov.Company != "Acme Ltd" || ov.WinRate != 50 {
		t.Errorf("overview = %+v", ov)
	}

	w = env.do(http.MethodGet, "/api/companies/search?q=", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		typ       string
		retryable bool
	}{
		{domain.ErrUpstreamDataMissing, http.StatusNotFound, "no_data", false},
		{domain.ErrNetworkUnavailable, http.StatusBadGateway, "upstream_unavailable", true},
		{domain.ErrTimeout, http.StatusGatewayTimeout, "upstream_timeout", true},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", false},
		{domain.ErrBusy, http.StatusTooManyRequests, "busy", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.src.bidsErr = tt.err

			w := env.do(http.MethodGet, "/api/companies/search?q=Acme", "", "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			e := decodeError(t, w)
			if e.Error.Type != tt.typ || e.Error.Retryable != tt.retryable {
				t.Errorf("error = %+v", e.Error)
			}
		})
	}
}

// ─── Reports ────────────────────────────────────────────────────────────────

func TestGenerateReport_DownloadAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/reports", "alice", `{"companyName":"Acme Ltd","format":"pdf"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, "Acme_Ltd_Report_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")) {
		t.Error("body is not a PDF")
	}
	if got := w.Header().Get("X-Credits-Remaining"); got != "1" {
		t.Errorf("X-Credits-Remaining = %q, want 1", got)
	}
	id := w.Header().Get("X-Report-Id")

	w = env.do(http.MethodGet, "/api/reports", "alice", "")
	var hist struct {
		Reports []domain.ReportRecord `json:"reports"`
		Count   int                   `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &hist)
	if hist.Count != 1 || hist.Reports[0].ID != id {
		t.Fatalf("history = %+v", hist)
	}

	w = env.do(http.MethodGet, "/api/reports/"+id, "alice", "")
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")) {
		t.Errorf("download status = %d", w.Code)
	}

	if w = env.do(http.MethodGet, "/api/reports/"+id, "bob", ""); w.Code != http.StatusNotFound {
		t.Errorf("other identity download = %d, want 404", w.Code)
	}
}

func TestGenerateReport_NoCredits(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"companyName":"Acme","format":"json"}`

	for i := 0; i < 2; i++ {
		if w := env.do(http.MethodPost, "/api/reports", "", body); w.Code != http.StatusOK {
			t.Fatalf("report %d status = %d", i, w.Code)
		}
	}
	w := env.do(http.MethodPost, "/api/reports", "", body)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	if e := decodeError(t, w); e.Error.Type != "no_credits" || e.Error.Retryable {
		t.Errorf("error = %+v", e.Error)
	}
}

func TestGenerateReport_BadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"empty company", `{"companyName":"  "}`},
		{"bad format", `{"companyName":"Acme","format":"docx"}`},
		{"bad date", `{"companyName":"Acme","dateRange":{"start":"yesterday"}}`},
		{"inverted range", `{"companyName":"Acme","dateRange":{"start":"2025-02-01","end":"2025-01-01"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/reports", "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body)
			}
		})
	}

	var resp creditsResponse
	json.Unmarshal(env.do(http.MethodGet, "/api/credits", "", "").Body.Bytes(), &resp)
	if resp.Remaining != 2 {
		t.Errorf("remaining = %d after rejected requests, want 2", resp.Remaining)
	}
}

func TestGenerateReport_UpstreamFailureKeepsCredit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.src.bidsErr = domain.ErrNetworkUnavailable

	w := env.do(http.MethodPost, "/api/reports", "", `{"companyName":"Acme"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var resp creditsResponse
	json.Unmarshal(env.do(http.MethodGet, "/api/credits", "", "").Body.Bytes(), &resp)
	if resp.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", resp.Remaining)
	}
}

func TestParseDate(t *testing.T) {
	g := generateRequest{CompanyName: "Acme"}
	g.DateRange = &struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{Start: "2025-01-01", End: "2025-01-31"}

	req, err := g.toRequest()
	if err != nil {
		t.Fatal(err)
	}
	end := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	if !req.DateRange.Contains(end) {
		t.Error("bare end date should cover the whole day")
	}
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t, func(s *Server) { s.SetAdminToken("s3cret") })
	env.do(http.MethodPost, "/api/reports", "carol", `{"companyName":"Acme","format":"json"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/credits/carol/reset", nil)
	w := httptest.NewRecorder()
	env.h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/credits/carol/reset", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/credits/carol/reset", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	env.h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp creditsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Remaining != 2 || resp.Used != 0 {
		t.Errorf("after reset = %+v", resp)
	}
}

func TestAdminReset_DisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/credits/local/reset", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	env.h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want route absent", w.Code)
	}
}

func TestTraces(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPost, "/api/reports", "", `{"companyName":"Acme","format":"json"}`)

	w := env.do(http.MethodGet, "/api/traces?limit=5", "", "")
	var resp struct {
		Spans []observability.Span `json:"spans"`
		Total int                  `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total == 0 || len(resp.Spans) == 0 {
		t.Errorf("traces = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodOptions, "/api/reports", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("preflight = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), IdentityHeader) {
		t.Error("X-Identity not allowed by CORS")
	}
}

func TestValidIdentity(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"local", true},
		{"user@example.com", true},
		{"a_b-c.d", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		if got := validIdentity(tt.id); got != tt.want {
			t.Errorf("validIdentity(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
