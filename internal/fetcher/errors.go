package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies a failed fetch.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindConnectionRefused Kind = "connection_refused"
	KindNonSuccessStatus  Kind = "non_success_status"
	KindTransport         Kind = "transport"
)

// FetchError is returned for every failed Fetch.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindNonSuccessStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

func classify(url string, err error) *FetchError {
	fe := &FetchError{Kind: KindTransport, URL: url, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		fe.Kind = KindConnectionRefused
	}
	return fe
}
