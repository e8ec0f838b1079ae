// Package errors is the failure taxonomy shared by the pool, the data access
// layer, the dispatcher and the HTTP surface. Every failure that crosses a
// package boundary is an *Error carrying one ErrorType.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrorType classifies a failure
type ErrorType string

const (
	ErrorTypePoolExhausted  ErrorType = "pool_exhausted"  // no connection within acquire_timeout
	ErrorTypePoolClosed     ErrorType = "pool_closed"     // pool shut down
	ErrorTypeQuery          ErrorType = "query"           // malformed operation or statement failure
	ErrorTypeTimeout        ErrorType = "timeout"         // operation deadline elapsed
	ErrorTypeConnectionLost ErrorType = "connection_lost" // connection failed mid-operation
	ErrorTypeDecode         ErrorType = "decode"          // row could not be mapped
	ErrorTypeCancelled      ErrorType = "cancelled"       // caller went away
	ErrorTypeRejected       ErrorType = "rejected"        // admission control said no
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeInternal       ErrorType = "internal"
)

const maxDepth = 32

// Error is a classified failure with optional cause and details
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}

	pcs []uintptr
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches key=value and returns e for chaining
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 2)
	}
	e.Details[key] = value
	return e
}

// Frames resolves the call stack recorded when e was created
func (e *Error) Frames() []runtime.Frame {
	if len(e.pcs) == 0 {
		return nil
	}
	out := make([]runtime.Frame, 0, len(e.pcs))
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		out = append(out, f)
		if !more {
			break
		}
	}
	return out
}

// MarshalLogObject lets zap.Object render e as a nested object
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(e.Type))
	enc.AddString("message", e.Message)
	if e.Cause != nil {
		enc.AddString("cause", e.Cause.Error())
	}
	for k, v := range e.Details {
		if err := enc.AddReflected(k, v); err != nil {
			return err
		}
	}
	return nil
}

// New creates an error of the given type
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, pcs: callers()}
}

// Newf creates an error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), pcs: callers()}
}

// Wrap classifies err. It returns nil for a nil err. The stack of an inner
// *Error is kept so the trace points at the original failure.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	w := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if stderrors.As(err, &inner) && len(inner.pcs) > 0 {
		w.pcs = inner.pcs
	} else {
		w.pcs = callers()
	}
	return w
}

// Rejected builds the admission-control failure for reason
func Rejected(reason string, ceiling int) *Error {
	e := &Error{
		Type:    ErrorTypeRejected,
		Message: "request rejected by admission control",
		pcs:     callers(),
	}
	return e.WithDetail("reason", reason).WithDetail("ceiling", ceiling)
}

// IsRetryable reports whether backing off and retrying can succeed. Only
// capacity failures qualify.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypePoolExhausted, ErrorTypeRejected:
		return classified(err)
	}
	return false
}

// IsType checks the type of the outermost *Error in err's chain
func IsType(err error, errType ErrorType) bool {
	return classified(err) && TypeOf(err) == errType
}

// TypeOf returns the type of the outermost *Error in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Fields renders err as zap fields: error_type, error and any details
func Fields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	fields := []zap.Field{zap.String("error_type", string(TypeOf(err))), zap.Error(err)}
	var e *Error
	if stderrors.As(err, &e) && len(e.Details) > 0 {
		fields = append(fields, zap.Any("error_details", e.Details))
	}
	return fields
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func classified(err error) bool {
	var e *Error
	return stderrors.As(err, &e)
}

// callers skips runtime.Callers, callers and the constructor
func callers() []uintptr {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
