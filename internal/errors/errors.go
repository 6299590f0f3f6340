// Package errors wraps internal (compiler-bug-class) failures for every
// pipeline stage downstream of parsing: codegen, the backend driver, the
// cache, and the JIT. User-facing malformed-program errors stay in
// internal/diag.Diagnostic; this package is for faults the compiler
// itself should never produce, where the caller wants a stack-bearing
// cause chain to report upstream (a build log, a diagserver event)
// rather than a source-location-anchored diagnostic.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage identifies which pipeline component raised the error.
type Stage string

const (
	StageCodegen Stage = "codegen"
	StageBackend Stage = "backend"
	StageJIT     Stage = "jit"
	StageCache   Stage = "cache"
	StageDriver  Stage = "driver"
)

// CompileError is an internal fault at a named stage, wrapping an
// underlying cause with github.com/pkg/errors so %+v printing carries a
// stack trace back to the Wrap call site.
type CompileError struct {
	Stage   Stage
	Context string // e.g. the function/symbol being processed when the fault hit
	cause   error
}

func (e *CompileError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Context, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.cause)
}

// Unwrap exposes the underlying cause so errors.Is/errors.As (stdlib or
// pkg/errors) can see through it.
func (e *CompileError) Unwrap() error { return e.cause }

// Wrap attaches stage/context to err, capturing a stack trace at this
// call site via pkg/errors.WithStack when err doesn't already carry one.
func Wrap(stage Stage, context string, err error) *CompileError {
	if err == nil {
		return nil
	}
	cause := err
	if StackTrace(err) == "" {
		cause = errors.WithStack(err)
	}
	return &CompileError{Stage: stage, Context: context, cause: cause}
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(stage Stage, err error, format string, args ...interface{}) *CompileError {
	return Wrap(stage, fmt.Sprintf(format, args...), err)
}

// New creates a stage-tagged internal error from a message, with a
// stack trace captured at the call site.
func New(stage Stage, context, message string) *CompileError {
	return &CompileError{Stage: stage, Context: context, cause: errors.New(message)}
}

// StackTrace returns the formatted stack trace pkg/errors attached to
// err's cause chain, or "" if none is present (a plain error not routed
// through Wrap/New).
func StackTrace(err error) string {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			return fmt.Sprintf("%+v", st.StackTrace())
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
