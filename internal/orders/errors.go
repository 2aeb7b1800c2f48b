package orders

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the entry-point boundary.
type Kind string

const (
	KindInput                    Kind = "input"
	KindNotFound                 Kind = "not_found"
	KindConfiguration            Kind = "configuration"
	KindUpstream                 Kind = "upstream"
	KindConflictResolved         Kind = "conflict_resolved"
	KindLimitExceeded            Kind = "limit_exceeded"
	KindVerificationInconclusive Kind = "verification_inconclusive"
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, orders.ErrLimitExceeded).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

var (
	ErrInput                    = &Error{Kind: KindInput}
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrConfiguration            = &Error{Kind: KindConfiguration}
	ErrUpstream                 = &Error{Kind: KindUpstream}
	ErrConflictResolved         = &Error{Kind: KindConflictResolved}
	ErrLimitExceeded            = &Error{Kind: KindLimitExceeded}
	ErrVerificationInconclusive = &Error{Kind: KindVerificationInconclusive}
)

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func InputError(op, format string, args ...any) error {
	return newError(KindInput, op, nil, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newError(KindNotFound, op, nil, format, args...)
}

func ConfigurationError(op, format string, args ...any) error {
	return newError(KindConfiguration, op, nil, format, args...)
}

func UpstreamError(op string, err error) error {
	return newError(KindUpstream, op, err, "payment processor unavailable")
}

func LimitExceeded(op string, active, limit int) error {
	return newError(KindLimitExceeded, op, nil, "%d active orders, limit is %d", active, limit)
}

// ConflictResolved marks a write that lost to another writer which already
// reached the same outcome. Callers turn it into that outcome.
func ConflictResolved(op, orderID string) error {
	return newError(KindConflictResolved, op, nil, "order %s already resolved", orderID)
}

// VerificationInconclusive means the processor could not be asked; the
// payment state is unknown, not negative.
func VerificationInconclusive(op string, err error) error {
	return newError(KindVerificationInconclusive, op, err, "payment could not be verified")
}

// KindOf returns the Kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
