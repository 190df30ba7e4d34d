package service

import (
	"errors"
	"fmt"
	"strings"

	"bullionwatch/internal/rates"
)

// Kind classifies a failed or degraded refresh.
type Kind string

const (
	// KindUpstreamUnavailable covers fetch and parse failures; no snapshot.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindPartialData means one metal is missing; the snapshot is still valid.
	KindPartialData Kind = "partial_data"
)

var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPartialData         = errors.New("partial data")
)

// Error is returned by Coordinator.Refresh.
type Error struct {
	Kind    Kind
	Missing []rates.Metal
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, m := range e.Missing {
			names[i] = string(m)
		}
		fmt.Fprintf(&b, " (missing %s)", strings.Join(names, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUpstreamUnavailable:
		return e.Kind == KindUpstreamUnavailable
	case ErrPartialData:
		return e.Kind == KindPartialData
	}
	return false
}

// IsPartial reports whether err only signals a partially filled snapshot.
func IsPartial(err error) bool {
	return errors.Is(err, ErrPartialData)
}
