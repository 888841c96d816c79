// Package errs defines the failure taxonomy of a tracker cycle. Every error
// here is fatal to the cycle that produced it.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ExtractionKind tells why a page element could not be used.
type ExtractionKind string

const (
	MissingField ExtractionKind = "missing_field"
	InvalidPrice ExtractionKind = "invalid_price"
	InvalidValue ExtractionKind = "invalid_value"
)

// ExtractionError indicates the page no longer has the expected structure.
type ExtractionError struct {
	Kind     ExtractionKind
	Selector string
	Detail   string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction: %s %q", e.Kind, e.Selector)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// RegionConsistencyError indicates the storefront did not apply the
// requested region before the page was read.
type RegionConsistencyError struct {
	Want string
	Got  string
}

func (e *RegionConsistencyError) Error() string {
	return fmt.Sprintf("region_consistency: selected region is %q, want %q", e.Got, e.Want)
}

// TransportError wraps a network failure or a non-success status from the
// catalog, the mirror or the webhook.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport: %s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failure of the snapshot files or the cache store.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Label maps an error to a short metric label.
func Label(err error) string {
	if err == nil {
		return "unknown"
	}
	var extraction *ExtractionError
	if errors.As(err, &extraction) {
		return "extraction"
	}
	var region *RegionConsistencyError
	if errors.As(err, &region) {
		return "region_consistency"
	}
	var persistence *PersistenceError
	if errors.As(err, &persistence) {
		return "persistence"
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return transportLabel(transport)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

func transportLabel(e *TransportError) string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(e.Err, &opErr) {
		return "connection"
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	return "transport"
}
