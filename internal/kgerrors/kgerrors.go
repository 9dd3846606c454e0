// Package kgerrors defines the error taxonomy shared by all pipeline stages
// (spec.md §7). Stages recover locally from per-file errors and return
// tallies; only invariant violations and concurrency conflicts propagate as
// typed errors the orchestrator inspects to decide continue-vs-abort.
package kgerrors

import "fmt"

// Kind classifies an error for orchestrator decision-making.
type Kind string

const (
	// KindTransient is a retryable store error (e.g. a locked database file).
	KindTransient Kind = "transient"
	// KindPerFile is a non-fatal, per-item error (decode/parse/too-large).
	KindPerFile Kind = "per_file"
	// KindPerStage is non-fatal in default mode, fatal under strict.
	KindPerStage Kind = "per_stage"
	// KindInvariant is always fatal; the orchestrator aborts the job.
	KindInvariant Kind = "invariant"
	// KindCancelled is not an error; reported for completeness.
	KindCancelled Kind = "cancelled"
	// KindConcurrency is a job-lifecycle conflict (JobAlreadyRunning).
	KindConcurrency Kind = "concurrency"
)

// Error is the typed error every stage and the orchestrator exchange.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps a retryable store error.
func Transient(stage, msg string, err error) *Error {
	return &Error{Kind: KindTransient, Stage: stage, Message: msg, Err: err}
}

// PerFile wraps a non-fatal per-file error.
func PerFile(stage, msg string, err error) *Error {
	return &Error{Kind: KindPerFile, Stage: stage, Message: msg, Err: err}
}

// PerStage wraps a non-fatal (unless strict) stage-level error.
func PerStage(stage, msg string, err error) *Error {
	return &Error{Kind: KindPerStage, Stage: stage, Message: msg, Err: err}
}

// Invariant wraps a fatal invariant violation, naming which invariant broke.
func Invariant(stage, invariant string, err error) *Error {
	return &Error{Kind: KindInvariant, Stage: stage, Message: "invariant violated: " + invariant, Err: err}
}

// ErrJobAlreadyRunning is returned by Orchestrator.Start when a job is in flight.
var ErrJobAlreadyRunning = &Error{Kind: KindConcurrency, Stage: "orchestrator", Message: "a job is already running"}

// IsFatal reports whether an error of this kind should abort the containing
// stage/job regardless of the strict flag.
func IsFatal(err error) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.Kind == KindInvariant || e.Kind == KindConcurrency
}

// IsStageFatal reports whether err should abort the containing stage given
// the strict flag (per-stage errors are only fatal under strict).
func IsStageFatal(err error, strict bool) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	if e.Kind == KindInvariant || e.Kind == KindConcurrency {
		return true
	}
	if e.Kind == KindPerStage && strict {
		return true
	}
	return false
}
