package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthenticated")
	ErrRateLimited  = errors.New("rate limited")
	ErrConflict     = errors.New("conflict")
	ErrTemporary    = errors.New("temporary failure")
	ErrSelection    = errors.New("document selection failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RejectionReason maps a submission error to the wire-level rejection reason.
// Empty means the error is not a rejection.
func RejectionReason(err error) string {
	switch {
	case IsKind(err, ErrRateLimited):
		return "rate_limited"
	case IsKind(err, ErrUnauthorized):
		return "unauthenticated"
	case IsKind(err, ErrInvalidInput):
		return "validation_error"
	default:
		return ""
	}
}
