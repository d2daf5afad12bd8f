// Package apperr defines the error taxonomy shared by the coordinator and
// its HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("bin is currently in use by another user")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrStoreFailure = errors.New("store failure")
)

// ConflictError carries the current holder so clients can show who is
// using the bin.
type ConflictError struct {
	BinID  string
	Holder string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bin %s is held by %s", e.BinID, e.Holder)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Validation builds an ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

// StoreFailure wraps a persistence error. Already-classified errors pass
// through unchanged.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	for _, target := range []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrValidation, ErrStoreFailure} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Code returns the machine-readable code used in JSON error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "BIN_ALREADY_ACTIVE"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrValidation):
		return "INVALID_REQUEST"
	default:
		return "SERVER_ERROR"
	}
}

// HTTPStatus maps err onto a status code. Device paths report every
// authorization failure as 401; user paths use 403 for a wrong holder.
func HTTPStatus(err error, devicePath bool) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		if devicePath {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
