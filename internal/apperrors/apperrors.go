// Package apperrors defines the error kinds used across the pipeline, per
// the error-handling design: transient-io, validation, config, fatal-init,
// and user-cancel. Each kind wraps an underlying cause and supports
// errors.Is/As so callers can branch on kind without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the coordinator and its agents should
// react to it.
type Kind int

const (
	// KindTransientIO covers network timeouts, 5xx from the LLM, and file
	// lock contention. Retried with backoff by the caller.
	KindTransientIO Kind = iota
	// KindValidation covers malformed LLM JSON, invalid indices, and
	// missing fields. Logged at warn; the offending item is dropped.
	KindValidation
	// KindConfig covers a missing active model or an invalid DB path. The
	// coordinator surfaces a requires_model state; UI queries keep working.
	KindConfig
	// KindFatalInit covers a DB file or directory that cannot be created.
	// Raised to the process entry point; the pipeline stays down.
	KindFatalInit
	// KindUserCancel covers a chat stream cancelled by a newer message on
	// the same conversation. Terminal, never retried.
	KindUserCancel
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient-io"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindFatalInit:
		return "fatal-init"
	case KindUserCancel:
		return "user-cancel"
	default:
		return "unknown"
	}
}

// Error is the concrete wrapper carried through the pipeline. Stage is the
// component name (e.g. "action_agent") used for per-stage counters and log
// lines.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, apperrors.TransientIO) match any *Error of that
// kind regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel instances used purely for errors.Is comparisons via Error.Is.
var (
	TransientIO = &Error{Kind: KindTransientIO}
	Validation  = &Error{Kind: KindValidation}
	Config      = &Error{Kind: KindConfig}
	FatalInit   = &Error{Kind: KindFatalInit}
	UserCancel  = &Error{Kind: KindUserCancel}
)

// Wrap builds a *Error of the given kind, tagged with the stage that raised
// it.
func Wrap(kind Kind, stage string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// TransientIOf wraps err as a transient-io error from stage.
func TransientIOf(stage string, err error) *Error { return Wrap(KindTransientIO, stage, err) }

// Validationf wraps err as a validation error from stage.
func Validationf(stage string, err error) *Error { return Wrap(KindValidation, stage, err) }

// Configf wraps err as a config error from stage.
func Configf(stage string, err error) *Error { return Wrap(KindConfig, stage, err) }

// FatalInitf wraps err as a fatal-init error from stage.
func FatalInitf(stage string, err error) *Error { return Wrap(KindFatalInit, stage, err) }

// UserCancelf wraps err as a user-cancel error from stage.
func UserCancelf(stage string, err error) *Error { return Wrap(KindUserCancel, stage, err) }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
