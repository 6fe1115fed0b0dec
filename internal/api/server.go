// Package api provides the HTTP server for Intel Bidder.
// It exposes credits, company search and report generation to the web
// client, plus health, metrics and an administrative credit override.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenderintel/intelbidder/internal/app/credit"
	"github.com/tenderintel/intelbidder/internal/app/insight"
	"github.com/tenderintel/intelbidder/internal/app/report"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
)

// IdentityHeader carries the caller's identity. Requests without it act as
// the default identity.
const IdentityHeader = "X-Identity"

// maxIdentityLength caps identity values, in bytes.
const maxIdentityLength = 128

// Server is the Intel Bidder HTTP API server.
type Server struct {
	credits *credit.Service
	reports *report.Service
	search  *insight.Service
	logger  *slog.Logger

	metricsEnabled  bool
	tracer          *observability.Tracer
	adminToken      string
	defaultIdentity string
	version         string
	requestTimeout  time.Duration
}

// NewServer creates a new API server.
func NewServer(credits *credit.Service, reports *report.Service, search *insight.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		credits:         credits,
		reports:         reports,
		search:          search,
		logger:          logger.With("component", "api"),
		defaultIdentity: "local",
		version:         "dev",
		requestTimeout:  2 * time.Minute,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetTracer exposes recorded spans at /api/traces.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// SetAdminToken enables the admin routes behind a bearer token. An empty
// token leaves them unmounted.
func (s *Server) SetAdminToken(token string) { s.adminToken = token }

// SetDefaultIdentity sets the identity used when no X-Identity header is sent.
func (s *Server) SetDefaultIdentity(id string) {
	if id != "" {
		s.defaultIdentity = id
	}
}

// SetVersion sets the version reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// SetRequestTimeout bounds each request.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.requestTimeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": s.version,
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)
			r.Get("/credits", s.handleCredits)
			r.Get("/companies/search", s.handleSearch)
			r.Post("/reports", s.handleGenerateReport)
			r.Get("/reports", s.handleListReports)
			r.Get("/reports/{id}", s.handleDownloadReport)
		})

		if s.adminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminAuth)
				r.Post("/credits/{identity}/reset", s.handleAdminReset)
			})
		}

		if s.tracer != nil {
			r.Get("/traces", s.handleTraces)
		}
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

type ctxKey string

const identityKey ctxKey = "identity"

// identityMiddleware resolves the caller identity from X-Identity.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(IdentityHeader))
		if id == "" {
			id = s.defaultIdentity
		}
		if !validIdentity(id) {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid "+IdentityHeader+" header", false)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(r *http.Request) string {
	id, _ := r.Context().Value(identityKey).(string)
	return id
}

// validIdentity accepts letters, digits and . _ @ - up to maxIdentityLength.
func validIdentity(id string) bool {
	if id == "" || len(id) > maxIdentityLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '@', c == '-':
		default:
			return false
		}
	}
	return true
}

// requestLogger logs each request and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

// corsMiddleware adds CORS headers for the browser client.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+IdentityHeader)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Report-Id, X-Credits-Remaining")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, typ, msg string, retryable bool) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message":   msg,
			"type":      typ,
			"retryable": retryable,
		},
	})
}
