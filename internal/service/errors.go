package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/provenance/provenance-gateway/internal/protocol"
)

type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Fields     []protocol.FieldError
	Details    map[string]any
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, "INTERNAL_ERROR", msg, true, cause)
}

func BadRequest(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadRequest, "BAD_REQUEST", msg, false, cause)
}

// Validation reports every offending field at once.
func Validation(fields []protocol.FieldError) *AppError {
	e := NewAppError(http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", false, nil)
	e.Fields = fields
	return e
}

func Conflict(code, msg string, details map[string]any) *AppError {
	e := NewAppError(http.StatusConflict, code, msg, false, nil)
	e.Details = details
	return e
}

func Forbidden(code, msg string, details map[string]any) *AppError {
	e := NewAppError(http.StatusForbidden, code, msg, false, nil)
	e.Details = details
	return e
}

// Upstream converts an adapter failure into an AppError. The upstream status
// passes through when it is a 4xx or 5xx; otherwise the caller sees a 500 with
// a generic message.
func Upstream(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	up, ok := protocol.AsUpstream(err)
	if !ok {
		return Internal("internal server error", err)
	}
	code := up.Code
	if code == "" {
		code = "UPSTREAM_ERROR"
	}
	if up.StatusCode >= 400 && up.StatusCode <= 599 {
		e := NewAppError(up.StatusCode, code, up.Message, up.StatusCode >= 500 || up.StatusCode == http.StatusTooManyRequests, err)
		e.Details = map[string]any{"service": up.Service}
		return e
	}
	e := NewAppError(http.StatusInternalServerError, code, up.Service+" request failed", true, err)
	e.Details = map[string]any{"service": up.Service}
	return e
}

// fieldErrors collects validation failures in request order.
type fieldErrors []protocol.FieldError

func (f *fieldErrors) add(field, msg string) {
	*f = append(*f, protocol.FieldError{Field: field, Message: msg})
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return Validation(f)
}
