package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies a fetch failure. Ordinary network failure is an expected
// outcome for community-run endpoints, so it is always a typed return,
// never a panic.
type Kind int

// Failure classes.
const (
	KindOther Kind = iota
	KindTimeout
	KindConnectionRefused
	KindDNSFailure
	KindHTTPStatus
	KindBodyTooLarge
)

// String returns a short human-readable name for the failure class.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection refused"
	case KindDNSFailure:
		return "dns failure"
	case KindHTTPStatus:
		return "http status"
	case KindBodyTooLarge:
		return "body too large"
	default:
		return "other"
	}
}

// Error is a classified fetch failure. StatusCode is set only for
// KindHTTPStatus.
type Error struct {
	Err        error
	URL        string
	Kind       Kind
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}

	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps a transport error into a typed *Error.
func Classify(url string, err error) *Error {
	kind := KindOther

	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &dnsErr):
		kind = KindDNSFailure
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}

	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the failure class from an error chain, KindOther if the
// error did not originate from this package.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindOther
}
