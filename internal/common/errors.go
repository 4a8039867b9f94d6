package common

import (
	"errors"
	"net/http"
)

// AppError is an error carrying the code and HTTP status it is rendered with.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details any) *AppError {
	out := *e
	out.Details = details
	return &out
}

// ErrorMapping renders errors matching Target with Code and Status. An empty
// Message exposes the error text to the client.
type ErrorMapping struct {
	Target  error
	Code    string
	Status  int
	Message string
}

// ResolveError returns the AppError already in err's chain, or builds one
// from the first mapping whose Target matches err.
func ResolveError(err error, mappings []ErrorMapping) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	for _, m := range mappings {
		if !errors.Is(err, m.Target) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		status := m.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return NewAppError(m.Code, msg, status, err), true
	}
	return nil, false
}
