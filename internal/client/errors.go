package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tabwarden/tabwarden/internal/model"
)

// ErrorCategory determines how a failed call should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors may succeed on retry: 5xx, 408, 429, network failures.
	Recoverable ErrorCategory = iota
	// Irrecoverable errors fail immediately: 400, 401, 403, 404, 409.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps a failed call with its retry category.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int    // 0 for network errors
	Body       string // response body, for debugging
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// Irrecoverable reports whether the call must not be retried.
func (e *ClassifiedError) Irrecoverable() bool { return e.Category == Irrecoverable }

// IsIrrecoverable returns true if err should not be retried.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Category == Irrecoverable
}

// IsTransient reports a network, timeout or server-side failure.
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}

func newHTTPError(op string, status int, body string) *ClassifiedError {
	cat := Recoverable
	sentinel := model.ErrTransient
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		cat, sentinel = Irrecoverable, model.ErrUnauthorized
	case status == http.StatusNotFound:
		cat, sentinel = Irrecoverable, model.ErrNotFound
	case status == http.StatusConflict:
		cat, sentinel = Irrecoverable, model.ErrConflict
	case status >= 400 && status < 500:
		cat, sentinel = Irrecoverable, model.ErrValidation
	}
	return &ClassifiedError{
		Category:   cat,
		StatusCode: status,
		Body:       body,
		Underlying: fmt.Errorf("%s failed: %w", op, sentinel),
	}
}

func newNetworkError(op string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s: %w: %w", op, model.ErrTransient, err),
	}
}
