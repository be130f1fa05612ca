// Package apperr holds the error taxonomy shared by fetchers, parsers and
// cascades. Stage-local failures are classified here and then turned into
// "advance to the next source" by the callers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNetwork            = errors.New("network error")
	ErrTimeout            = errors.New("timeout")
	ErrParse              = errors.New("parse error")
	ErrValidationRejected = errors.New("validation rejected")
	ErrCredentialMissing  = errors.New("credential missing")
	ErrNoData             = errors.New("no data found")
	ErrCircuitOpen        = errors.New("circuit breaker open")
)

// HTTPStatusError is returned when an upstream answers with a non-2xx status.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http error: status %d", e.Status)
}

// Category is a stable label for metrics and logs.
type Category string

const (
	CategoryNetwork            Category = "network_error"
	CategoryTimeout            Category = "timeout"
	CategoryHTTP               Category = "http_error"
	CategoryParse              Category = "parse_error"
	CategoryValidationRejected Category = "validation_rejected"
	CategoryCredentialMissing  Category = "credential_missing"
	CategoryNoData             Category = "no_data_found"
	CategoryCircuitOpen        Category = "circuit_open"
	CategoryUnknown            Category = "unknown"
)

// Categorize maps an error to a Category. Sentinels are checked before the
// context errors so that a wrapped ErrTimeout and a raw deadline agree.
func Categorize(err error) Category {
	if err == nil {
		return ""
	}
	var statusErr *HTTPStatusError
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return CategoryCredentialMissing
	case errors.Is(err, ErrCircuitOpen):
		return CategoryCircuitOpen
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.As(err, &statusErr):
		return CategoryHTTP
	case errors.Is(err, ErrNetwork):
		return CategoryNetwork
	case errors.Is(err, ErrParse):
		return CategoryParse
	case errors.Is(err, ErrValidationRejected):
		return CategoryValidationRejected
	case errors.Is(err, ErrNoData):
		return CategoryNoData
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// Retryable reports whether a single upstream call may be attempted again.
// 429 and 5xx are retryable, other statuses are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == 429 || statusErr.Status >= 500
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

// Rejected wraps a reason as a validation rejection.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationRejected, fmt.Sprintf(format, args...))
}
