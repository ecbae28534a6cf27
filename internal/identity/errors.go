package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is; the store and driver wrap
// them with context.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDatabase   = errors.New("database error")
	ErrInternal   = errors.New("internal error")
)

// Error kinds reported by Kind and by ErrorClassifier implementations.
const (
	KindNotFound      = "not_found"
	KindValidation    = "validation"
	KindConfiguration = "configuration"
	KindDatabase      = "database"
	KindInternal      = "internal"
	KindUnknown       = "unknown"
)

// ErrorClassifier lets errors declare their own kind.
type ErrorClassifier interface {
	ErrorKind() string
}

type kindError struct {
	kind    string
	message string
	cause   error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *kindError) ErrorKind() string { return e.kind }

func (e *kindError) Unwrap() []error {
	sentinel := sentinelFor(e.kind)
	if e.cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.cause}
}

func sentinelFor(kind string) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindDatabase:
		return ErrDatabase
	default:
		return ErrInternal
	}
}

// NotFoundf builds an error matching ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &kindError{kind: KindNotFound, message: fmt.Sprintf(format, args...)}
}

// Validationf builds an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return &kindError{kind: KindValidation, message: fmt.Sprintf(format, args...)}
}

// Internalf builds an error matching ErrInternal.
func Internalf(format string, args ...any) error {
	return &kindError{kind: KindInternal, message: fmt.Sprintf(format, args...)}
}

// DatabaseError wraps a storage failure so it matches ErrDatabase while
// keeping the driver error reachable.
func DatabaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return err
	}
	return &kindError{kind: KindDatabase, message: op, cause: err}
}

// Kind classifies err for logging and exit codes.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDatabase):
		return KindDatabase
	case errors.Is(err, ErrInternal):
		return KindInternal
	}
	return KindUnknown
}
