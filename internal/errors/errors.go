package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeInternal           = Code(codes.Internal)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
	CodePermissionDenied   = Code(codes.PermissionDenied)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusBadGateway,
	CodeUnauthenticated:    http.StatusUnauthorized,
	CodePermissionDenied:   http.StatusForbidden,
}

// Reason narrows a Code down to one of the failure kinds callers branch on.
type Reason string

const (
	ReasonValidation         Reason = "validation_error"
	ReasonInvalidTransition  Reason = "invalid_transition"
	ReasonAlreadySubmitted   Reason = "already_submitted"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonProvider           Reason = "provider_error"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code and reason.
// It lets callers write errors.Is(err, errors.AlreadySubmitted("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is is errors.Is re-exported so callers importing this package under the
// name errors don't need the standard library alias.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Validation reports bad input shape or a dangling reference.
func Validation(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithReason(ReasonValidation), WithMessagef(format, args...))
}

// InvalidTransition reports a state machine precondition violation.
func InvalidTransition(format string, args ...any) *Error {
	return New(CodeFailedPrecondition, WithReason(ReasonInvalidTransition), WithMessagef(format, args...))
}

func AlreadySubmitted(format string, args ...any) *Error {
	return New(CodeAlreadyExists, WithReason(ReasonAlreadySubmitted), WithMessagef(format, args...))
}

func InvalidCredentials(format string, args ...any) *Error {
	return New(CodeUnauthenticated, WithReason(ReasonInvalidCredentials), WithMessagef(format, args...))
}

func Unauthenticated(format string, args ...any) *Error {
	return New(CodeUnauthenticated, WithMessagef(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

// Provider wraps an opaque failure of an external dependency. Users only see a
// generic message; the cause stays available for logging.
func Provider(err error) *Error {
	return New(CodeUnavailable,
		WithReason(ReasonProvider),
		WithMessagef("the upstream service failed, please try again"),
		WithCause(err),
	)
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
