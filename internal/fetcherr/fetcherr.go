// Package fetcherr holds the failure kinds a logical fetch can end with.
package fetcherr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	AllFailed          Kind = "all_failed"
	Cancelled          Kind = "cancelled"
	CatalogUnavailable Kind = "catalog_unavailable"
)

// ErrDeadlineTooSoon marks a sub-request refused up front because the
// caller's deadline would pass before it could be admitted. It also matches
// context.DeadlineExceeded.
var ErrDeadlineTooSoon = fmt.Errorf("deadline too soon: %w", context.DeadlineExceeded)

// Error is returned when a fetch produced no usable table.
type Error struct {
	Kind   Kind
	Assets []string
	Err    error
}

func (e *Error) Error() string {
	msg := "fetch " + string(e.Kind)
	if len(e.Assets) > 0 {
		msg = fmt.Sprintf("%s %v", msg, e.Assets)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: Cancelled})
// works without comparing the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, err error, assets ...string) *Error {
	return &Error{Kind: kind, Assets: assets, Err: err}
}

// KindOf extracts the kind of a fetch error, or "" when err is not one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
