package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tenderintel/intelbidder/internal/app/report"
	"github.com/tenderintel/intelbidder/internal/domain"
)

// ─── Intel Bidder API ───────────────────────────────────────────────────────
//
// GET  /api/credits                          ledger, state, countdown, low flag
// GET  /api/companies/search?q=              chart-ready company overview
// POST /api/reports                          generate and download a report
// GET  /api/reports                          report history, newest first
// GET  /api/reports/{id}                     download a stored report
// POST /api/admin/credits/{identity}/reset   restore a full allocation
// GET  /api/traces                           recent generation spans

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// creditsResponse is the JSON form of a ledger for the client.
type creditsResponse struct {
	Total     int                `json:"total"`
	Used      int                `json:"used"`
	Remaining int                `json:"remaining"`
	ResetAt   time.Time          `json:"resetAt"`
	State     domain.LedgerState `json:"state"`
	Countdown domain.Countdown   `json:"countdown"`
	Low       bool               `json:"low"`
}

func (s *Server) creditsView(l domain.CreditLedger) creditsResponse {
	return creditsResponse{
		Total:     l.Total,
		Used:      l.Used,
		Remaining: l.Remaining,
		ResetAt:   l.ResetAt,
		State:     l.State(),
		Countdown: s.credits.TimeUntilReset(l),
		Low:       l.Low(),
	}
}

// handleCredits returns the caller's ledger.
// GET /api/credits
func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	l, err := s.credits.Load(r.Context(), identityFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.creditsView(l))
}

// handleSearch returns the overview for ?q=.
// GET /api/companies/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ov, err := s.search.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// generateRequest is the POST /api/reports body. Dates accept YYYY-MM-DD or
// RFC 3339.
type generateRequest struct {
	CompanyName string `json:"companyName"`
	Format      string `json:"format"`
	Department  string `json:"department"`
	DateRange   *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
}

func (g generateRequest) toRequest() (report.Request, error) {
	req := report.Request{
		Company:    g.CompanyName,
		Format:     domain.ReportFormat(g.Format),
		Department: strings.TrimSpace(g.Department),
	}
	if g.DateRange != nil {
		start, err := parseDate(g.DateRange.Start)
		if err != nil {
			return req, err
		}
		end, err := parseDate(g.DateRange.End)
		if err != nil {
			return req, err
		}
		if !end.IsZero() && len(strings.TrimSpace(g.DateRange.End)) == len(time.DateOnly) {
			// A bare end date covers the whole day.
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		if !start.IsZero() || !end.IsZero() {
			req.DateRange = &report.DateRange{Start: start, End: end}
		}
	}
	return req, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, domain.ErrValidation)
}

// handleGenerateReport runs the generation flow and streams the artifact.
// POST /api/reports
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.fail(w, r, fmt.Errorf("decode request: %v: %w", err, domain.ErrValidation))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	art, err := s.reports.Generate(r.Context(), identityFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("X-Report-Id", art.ID)
	w.Header().Set("X-Credits-Remaining", strconv.Itoa(art.Remaining))
	writeAttachment(w, art.Filename, art.ContentType, art.Data)
}

// handleListReports returns the caller's history.
// GET /api/reports?limit=
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", false)
			return
		}
		limit = n
	}
	list, err := s.reports.History(r.Context(), identityFrom(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ReportRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": list,
		"count":   len(list),
	})
}

// handleDownloadReport streams a stored artifact.
// GET /api/reports/{id}
func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reports.Get(r.Context(), identityFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Report-Id", rec.ID)
	writeAttachment(w, rec.Filename, rec.ContentType, rec.Content)
}

// handleAdminReset restores a full allocation for {identity}.
// POST /api/admin/credits/{identity}/reset
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	if !validIdentity(id) {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid identity", false)
		return
	}
	l, err := s.credits.AdminReset(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.creditsView(l))
}

// handleTraces returns the most recent spans.
// GET /api/traces?limit=
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": s.tracer.Spans(limit),
		"total": s.tracer.SpanCount(),
	})
}

// adminAuth requires "Authorization: Bearer <admin token>".
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.fail(w, r, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

// classify maps a flow error to an HTTP status, an error type and a message
// safe to show the user.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidFormat):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, domain.ErrNoCreditsRemaining):
		return http.StatusPaymentRequired, "no_credits", "No credits remaining. Credits reset at midnight."
	case errors.Is(err, domain.ErrReportNotFound):
		return http.StatusNotFound, "not_found", "Report not found."
	case errors.Is(err, domain.ErrUpstreamDataMissing):
		return http.StatusNotFound, "no_data", "No data found for this company."
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Unauthorized."
	case errors.Is(err, domain.ErrBusy):
		return http.StatusTooManyRequests, "busy", "A report is already being generated. Please wait for it to finish."
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout", "The tender data service timed out. Please try again."
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return http.StatusBadGateway, "upstream_unavailable", "The tender data service is currently unavailable. Please try again later."
	default:
		return http.StatusInternalServerError, "internal_error", "Something went wrong."
	}
}

// fail converts err into one error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, typ, msg := classify(err)
	if status >= 500 && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, typ, msg, domain.Retryable(err))
}
