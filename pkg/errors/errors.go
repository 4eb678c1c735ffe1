// Package errors defines the typed error taxonomy of the sync engine.
// Hot-path failures (validation, resolution) are returned to callers as
// typed results; cold-path failures (audit, analytics, notification) are
// logged and suppressed so they cannot destabilize real-time editing.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass buckets errors by how callers should react
type ErrorClass int

const (
	// ClassUnknown indicates an unclassified error
	ClassUnknown ErrorClass = iota
	// ClassValidation indicates a malformed operation; only that operation
	// is rejected
	ClassValidation
	// ClassPolicy indicates resolution was declined by policy
	ClassPolicy
	// ClassExhausted indicates all resolution strategies were tried and failed
	ClassExhausted
	// ClassPersistence indicates an audit/analytics write failure; non-fatal
	ClassPersistence
	// ClassConfiguration indicates invalid configuration at startup; fatal
	ClassConfiguration
)

// ValidationError reports a structurally invalid operation. It rejects only
// the offending operation, never the batch.
type ValidationError struct {
	OperationID string
	Field       string
	Reason      string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid operation %s: field %q %s", e.OperationID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid operation %s: %s", e.OperationID, e.Reason)
}

// Class returns ClassValidation
func (e *ValidationError) Class() ErrorClass { return ClassValidation }

// RiskTooHighError reports that automatic resolution was declined by policy
// before any strategy was attempted
type RiskTooHighError struct {
	ConflictID string
	Risk       string
}

func (e *RiskTooHighError) Error() string {
	return fmt.Sprintf("automatic resolution declined for conflict %s: risk %s", e.ConflictID, e.Risk)
}

// Class returns ClassPolicy
func (e *RiskTooHighError) Class() ErrorClass { return ClassPolicy }

// ResolutionExhaustedError reports that every strategy was tried and failed.
// Attempts carries the history for the audit trail.
type ResolutionExhaustedError struct {
	ConflictID string
	Attempts   []AttemptRecord
}

// AttemptRecord is one failed strategy attempt
type AttemptRecord struct {
	Strategy string
	Err      error
	At       time.Time
}

func (e *ResolutionExhaustedError) Error() string {
	return fmt.Sprintf("resolution exhausted for conflict %s after %d attempts", e.ConflictID, len(e.Attempts))
}

// Class returns ClassExhausted
func (e *ResolutionExhaustedError) Class() ErrorClass { return ClassExhausted }

// PersistenceError wraps an audit or analytics storage failure. Cold path
// only; callers log it and continue.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying storage error
func (e *PersistenceError) Unwrap() error { return e.Cause }

// Class returns ClassPersistence
func (e *PersistenceError) Class() ErrorClass { return ClassPersistence }

// ConfigurationError reports an invalid threshold or option at startup.
// Fatal; the process fails fast.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Option, e.Reason)
}

// Class returns ClassConfiguration
func (e *ConfigurationError) Class() ErrorClass { return ClassConfiguration }

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ClassOf returns the class of a typed engine error, or ClassUnknown
func ClassOf(err error) ErrorClass {
	type classed interface{ Class() ErrorClass }
	var c classed
	if errors.As(err, &c) {
		return c.Class()
	}
	return ClassUnknown
}
