package domain

import (
	"fmt"
	"time"
)

// FailureClass determines how a task error propagates through the pool.
type FailureClass int

const (
	ClassNonRetryable FailureClass = iota // Terminal for the task, run continues
	ClassRetryable                        // Transient, task is re-queued
	ClassNotFound                         // Item unknown to the service, terminal but not a failure
	ClassFatal                            // Aborts the whole run
)

func (c FailureClass) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassRetryable:
		return "retryable"
	case ClassNotFound:
		return "not-found"
	case ClassNonRetryable:
		return "non-retryable"
	default:
		return "unknown"
	}
}

// ParseFailureClass maps a class name back to its FailureClass.
// Unknown names map to ClassNonRetryable.
func ParseFailureClass(s string) FailureClass {
	switch s {
	case "fatal":
		return ClassFatal
	case "retryable":
		return ClassRetryable
	case "not-found":
		return ClassNotFound
	default:
		return ClassNonRetryable
	}
}

// ClassifiedError tags an underlying error with a FailureClass so callers
// dispatch on the class instead of matching error strings.
type ClassifiedError struct {
	Class      FailureClass
	RetryAfter time.Duration // overload hint from the service, 0 if none
	Err        error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classified wraps err with an explicit failure class.
func Classified(class FailureClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// FailureRecord captures a task's terminal failure for the end-of-run report.
type FailureRecord struct {
	ID       string
	Path     string
	Platform string
	Action   ActionKind
	Class    FailureClass
	Error    string
	Attempts int
}
