// Package errs provides structured error types and helpers for the stream gateway.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category within the gateway.
type Code string

const (
	// CodeAuthFailure indicates a missing or invalid credential at connect time.
	CodeAuthFailure Code = "auth_failure"
	// CodeForbidden indicates the caller does not own the referenced resource.
	CodeForbidden Code = "forbidden"
	// CodeNotFound indicates a missing portfolio or connection.
	CodeNotFound Code = "not_found"
	// CodeProvider indicates a quote provider fetch failure.
	CodeProvider Code = "provider_error"
	// CodeDelivery indicates a per-connection send failure during fan-out.
	CodeDelivery Code = "delivery_failure"
	// CodeConflict indicates a concurrent registration conflict.
	CodeConflict Code = "conflict"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the gateway stack.
type E struct {
	Component string
	Code      Code
	Symbol    string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Symbol:    "",
		Message:   "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithSymbol records the market symbol the failure relates to.
func WithSymbol(symbol string) Option {
	trimmed := strings.TrimSpace(symbol)
	return func(e *E) {
		e.Symbol = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the gateway error code from err, walking the cause chain.
// Errors outside the envelope taxonomy report CodeUnavailable.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeUnavailable
}

// IsCode reports whether err carries the given gateway error code.
func IsCode(err error, code Code) bool {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code == code
	}
	return false
}
