package clinic

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these under errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrGuardNotSatisfied   = errors.New("guard not satisfied")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrNotFound            = errors.New("not found")
	ErrStorage             = errors.New("storage error")
)

// ErrDuplicateKey is returned by stores when a unique key is already taken.
// Services translate it before it reaches callers.
var ErrDuplicateKey = errors.New("clinic: duplicate key")

// Error carries a kind plus a package-prefixed message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error of the given kind. A %w verb in format keeps the
// wrapped cause reachable through errors.Unwrap.
func Errorf(kind error, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

// StorageError wraps an unexpected persistence failure.
func StorageError(op string, err error) error {
	return &Error{Kind: ErrStorage, Msg: fmt.Sprintf("%s: %v", op, err), Err: err}
}

var kinds = []error{
	ErrValidation,
	ErrGuardNotSatisfied,
	ErrInvalidTransition,
	ErrConcurrencyConflict,
	ErrNotFound,
	ErrStorage,
}

// KindOf returns the kind sentinel of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrGuardNotSatisfied:
		return "GUARD_NOT_SATISFIED"
	case ErrInvalidTransition:
		return "INVALID_TRANSITION"
	case ErrConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrStorage:
		return "STORAGE_ERROR"
	default:
		return "INTERNAL"
	}
}
