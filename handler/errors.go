package handler

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories spec.md §7 assigns handler policy to.
type Kind int

const (
	KindNone Kind = iota
	KindNotInit
	KindNotRunning
	KindInvalidArgument
	KindNotMaster
	KindTimeout
	KindRetryableLater
	KindRemovingLeaderDenied
	KindStateMismatch
	KindUnexpected
	KindConnectError
)

func (k Kind) String() string {
	switch k {
	case KindNotInit:
		return "NotInit"
	case KindNotRunning:
		return "NotRunning"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotMaster:
		return "NotMaster"
	case KindTimeout:
		return "Timeout"
	case KindRetryableLater:
		return "RetryableLater"
	case KindRemovingLeaderDenied:
		return "RemovingLeaderDenied"
	case KindStateMismatch:
		return "StateMismatch"
	case KindUnexpected:
		return "Unexpected"
	case KindConnectError:
		return "ConnectError"
	default:
		return "None"
	}
}

// Error is the handler's typed error, carrying a Kind the append path and
// the reconfiguration dispatcher classify on.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newErr(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	ErrNotInit              = newErr(KindNotInit, "handler not initialized or destroyed")
	ErrNotRunning            = newErr(KindNotRunning, "handler is stopped")
	ErrNotMaster            = newErr(KindNotMaster, "not leader")
	ErrTimeout              = newErr(KindTimeout, "deadline exceeded")
	ErrRemovingLeaderDenied = newErr(KindRemovingLeaderDenied, "cannot remove current leader")
)

func ErrInvalidArgument(msg string) *Error { return newErr(KindInvalidArgument, msg) }
func ErrStateMismatch(msg string) *Error   { return newErr(KindStateMismatch, msg) }
func ErrUnexpected(msg string) *Error      { return newErr(KindUnexpected, msg) }
func ErrConnect(msg string) *Error         { return newErr(KindConnectError, msg) }
func ErrRetryableLater(msg string) *Error  { return newErr(KindRetryableLater, msg) }

// KindOf extracts the Kind from err if it is (or wraps) a *Error, else
// KindUnexpected for a non-nil err and KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnexpected
}
