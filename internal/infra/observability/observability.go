// Package observability provides span tracing for the report flow and the
// Prometheus metrics exported on /metrics.
//
// Spans are kept in an in-memory ring so recent generations can be inspected
// through the API without an external collector.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// Span is one timed step of a traced operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SetAttr records an attribute on the span.
func (s *Span) SetAttr(key, value string) {
	if s == nil {
		return
	}
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[key] = value
}

// SpanStatus indicates success/failure.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer records finished spans in a bounded ring.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span and returns a context carrying it, so spans started
// from the returned context become its children.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   TraceIDFromContext(ctx),
		SpanID:    newID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	if span.TraceID == "" {
		span.TraceID = newID()
		ctx = WithTraceID(ctx, span.TraceID)
	}
	return context.WithValue(ctx, spanIDKey, span.SpanID), span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "intelbidder-trace-id"
	spanIDKey  contextKey = "intelbidder-span-id"
)

// WithTraceID returns a context with the given trace ID. The API seeds it
// with the request ID so logs and spans correlate.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace ID carried by ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

func newID() string {
	return uuid.NewString()[:8]
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Credit Metrics ─────────────────────────────────────────────────────────

// CreditDeductions counts deduction attempts by outcome (ok, exhausted,
// refunded).
var CreditDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "credits",
	Name:      "deductions_total",
	Help:      "Credit deduction attempts by outcome.",
}, []string{"outcome"})

// CreditResets counts ledgers moved into a new period.
var CreditResets = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "credits",
	Name:      "resets_total",
	Help:      "Ledger period resets by trigger (load, refresh, admin).",
}, []string{"trigger"})

// CreditsRemaining tracks the last observed balance per identity.
var CreditsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "intelbidder",
	Subsystem: "credits",
	Name:      "remaining",
	Help:      "Remaining credits in the current period.",
}, []string{"identity"})

// ─── Report Metrics ─────────────────────────────────────────────────────────

// ReportsGenerated counts generation attempts by format and outcome.
var ReportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "reports",
	Name:      "generated_total",
	Help:      "Report generation attempts by format and outcome.",
}, []string{"format", "outcome"})

// TranscriptionPages tracks the page count of rendered documents.
var TranscriptionPages = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "intelbidder",
	Subsystem: "reports",
	Name:      "pages",
	Help:      "Pages per rendered PDF report.",
	Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 20},
})

// TranscriptionDuration tracks layout plus serialization time.
var TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "intelbidder",
	Subsystem: "reports",
	Name:      "render_duration_ms",
	Help:      "Time to lay out and serialize a report in milliseconds.",
	Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000},
})

// SkippedBlocks counts malformed blocks dropped during transcription.
var SkippedBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "reports",
	Name:      "skipped_blocks_total",
	Help:      "Malformed report blocks skipped during transcription.",
}, []string{"kind"})

// ─── Upstream Metrics ───────────────────────────────────────────────────────

// UpstreamRequests counts tender API calls by endpoint and outcome.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "upstream",
	Name:      "requests_total",
	Help:      "Tender API requests by endpoint and outcome.",
}, []string{"endpoint", "outcome"})

// UpstreamLatency tracks tender API latency by endpoint.
var UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "intelbidder",
	Subsystem: "upstream",
	Name:      "latency_ms",
	Help:      "Tender API latency in milliseconds.",
	Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
}, []string{"endpoint"})

// ─── HTTP Metrics ───────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"route", "status"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "intelbidder",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
