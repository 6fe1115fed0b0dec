package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.
// Adapters wrap them with context; callers classify with errors.Is.

var (
	// Credit errors
	ErrNoCreditsRemaining = errors.New("no credits remaining")

	// Upstream errors
	ErrNetworkUnavailable  = errors.New("tender data service unavailable")
	ErrTimeout             = errors.New("tender data service timed out")
	ErrUpstreamDataMissing = errors.New("no data found")
	ErrUnauthorized        = errors.New("unauthorized")

	// Input errors
	ErrValidation    = errors.New("invalid input")
	ErrInvalidFormat = errors.New("unsupported report format")

	// Report errors
	ErrTranscription  = errors.New("malformed report block")
	ErrReportNotFound = errors.New("report not found")
	ErrBusy           = errors.New("report generation busy")
)

// Retryable reports whether err is transient and the user action may simply
// be repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrBusy)
}
