package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindProcessor      Kind = "processor"
	KindAuthentication Kind = "authentication"
	KindParse          Kind = "parse"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:     http.StatusBadRequest,
	KindConfiguration:  http.StatusInternalServerError,
	KindProcessor:      http.StatusBadGateway,
	KindAuthentication: http.StatusBadRequest,
	KindParse:          http.StatusBadRequest,
	KindNotFound:       http.StatusNotFound,
	KindInternal:       http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage is the text safe to hand back to a caller. Processor and
// internal failures are reduced to a generic message in production.
func (e *Error) PublicMessage(production bool) string {
	if production && (e.Kind == KindProcessor || e.Kind == KindInternal) {
		return "Server error"
	}
	if !production && e.Err != nil && (e.Kind == KindProcessor || e.Kind == KindInternal) {
		return e.Error()
	}
	return e.Message
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(field, message string) *Error {
	e := New(KindValidation, message, nil)
	e.Field = field
	return e
}

func Configuration(message string) *Error {
	return New(KindConfiguration, message, nil)
}

func Processor(message string, err error) *Error {
	return New(KindProcessor, message, err)
}

func Authentication(message string, err error) *Error {
	return New(KindAuthentication, message, err)
}

func Parse(message string, err error) *Error {
	return New(KindParse, message, err)
}

func NotFound(message string, err error) *Error {
	return New(KindNotFound, message, err)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, message, err)
}

// As extracts an *Error from err, if there is one in the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap returns err unchanged when it is already an *Error, otherwise wraps it
// as an internal error with the given message.
func Wrap(err error, message string) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(message, err)
}
