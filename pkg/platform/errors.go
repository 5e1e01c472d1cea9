package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures for the reconciler's retry policy.
type ErrorKind int

const (
	// KindNotFound: the pod or resource does not exist.
	KindNotFound ErrorKind = iota
	// KindTransient: network errors, throttling, 5xx. Retried next tick.
	KindTransient
	// KindAuthFailed: credentials rejected by the backend.
	KindAuthFailed
	// KindPermanent: schema rejection, quota exhaustion. Fails the container.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindAuthFailed:
		return "auth_failed"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// Error is the structured error every Platform implementation returns.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an operation name and a kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsNotFound reports whether err is a backend NotFound.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsAuthFailed reports whether the backend rejected our credentials.
func IsAuthFailed(err error) bool { return isKind(err, KindAuthFailed) }

// IsPermanent reports whether err should fail the container outright.
func IsPermanent(err error) bool { return isKind(err, KindPermanent) }
