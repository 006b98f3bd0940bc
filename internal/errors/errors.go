// Package errors provides centralized error definitions and error handling utilities
// for poolboy. It defines domain-specific errors, sentinel errors for the conditions
// the reconciler treats specially, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - StoreError: errors from the versioned store (git clone, log, mv, commit, push)
//   - PoolError: errors scanning a pool directory
//   - ConfigError: malformed configuration detected at startup
//
// # Usage
//
//	err := errors.NewStoreError("failed to push", errors.ErrPushRejected).
//		WithRepository(dir).
//		WithGitOutput(out)
//
//	if errors.Is(err, errors.ErrHistoryUnavailable) { ... }
//
//	var storeErr *errors.StoreError
//	if errors.As(err, &storeErr) { ... }
//
// # Fatal vs recoverable
//
// Only a lock that cannot be dated (ErrHistoryUnavailable) is recoverable inside a
// run. Everything else aborts the run; see IsFatal.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Store-related sentinel errors
var (
	// ErrHistoryUnavailable indicates the store has no history for a path,
	// so the lock at that path cannot be dated.
	ErrHistoryUnavailable = New("history unavailable")
	// ErrPushRejected indicates the remote refused a push (usually non-fast-forward).
	ErrPushRejected = New("push rejected by remote")
	// ErrCommandFailed indicates a git command exited non-zero.
	ErrCommandFailed = New("git command failed")
)

// Pool-related sentinel errors
var (
	// ErrPoolNotFound indicates the pool directory does not exist in the working copy.
	ErrPoolNotFound = New("pool not found")
)

// Configuration sentinel errors
var (
	// ErrInvalidPoolSpec indicates a malformed pool[:timeout] entry.
	ErrInvalidPoolSpec = New("invalid pool specification")
	// ErrInvalidLocalName indicates the working copy name derived from the remote URL is unusable.
	ErrInvalidLocalName = New("invalid local repository name")
	// ErrLocalNameCollision indicates the working copy path is occupied by something that is not a clone.
	ErrLocalNameCollision = New("local repository name collision")
	// ErrMissingRepository indicates no remote repository URL was configured.
	ErrMissingRepository = New("remote repository not configured")
)

// Run-level sentinel errors
var (
	// ErrWorkDirLocked indicates another run holds the working directory.
	ErrWorkDirLocked = New("working directory is locked by another run")
	// ErrOracleUnavailable indicates the liveness oracle could not answer. It is
	// only ever logged; the oracle never returns it to callers.
	ErrOracleUnavailable = New("liveness oracle unavailable")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PoolboyError is the base interface for all poolboy errors.
type PoolboyError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity
}

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StoreError represents a failed versioned store operation.
//
// Example:
//
//	err := errors.NewStoreError("failed to move lock", errors.ErrCommandFailed)
//	err = err.WithPath("workers/claimed/a").WithRepository("/tmp/pools")
type StoreError struct {
	baseError
	Repository string
	Path       string
	GitOutput  string // Captured git command output
}

// NewStoreError creates a new StoreError.
func NewStoreError(message string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithRepository adds a repository path to the error context.
func (e *StoreError) WithRepository(path string) *StoreError {
	e.Repository = path
	return e
}

// WithPath adds the path the operation was acting on.
func (e *StoreError) WithPath(path string) *StoreError {
	e.Path = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *StoreError) WithGitOutput(output string) *StoreError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// WithSeverity sets the error severity.
func (e *StoreError) WithSeverity(s Severity) *StoreError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	msg := formatWithContext("store error", parts, e.message, e.cause)
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PoolError represents a failure scanning a pool.
type PoolError struct {
	baseError
	Pool string
}

// NewPoolError creates a new PoolError.
func NewPoolError(pool, message string, cause error) *PoolError {
	return &PoolError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Pool: pool,
	}
}

// Error returns the formatted error message.
func (e *PoolError) Error() string {
	var parts []string
	if e.Pool != "" {
		parts = append(parts, fmt.Sprintf("pool=%s", e.Pool))
	}
	return formatWithContext("pool error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *PoolError) Is(target error) bool {
	if _, ok := target.(*PoolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigError represents invalid configuration detected before any store mutation.
//
// Example:
//
//	err := errors.NewConfigError("timeout must be positive", errors.ErrInvalidPoolSpec).
//		WithField("pools").WithValue("workers:0")
type ConfigError struct {
	baseError
	Field string
	Value any
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithField adds the config key that failed validation.
func (e *ConfigError) WithField(field string) *ConfigError {
	e.Field = field
	return e
}

// WithValue adds the offending value.
func (e *ConfigError) WithValue(value any) *ConfigError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ConfigError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatWithContext("config error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement PoolboyError.
// A run that fails with SeverityWarning was skipped rather than broken.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var pbErr PoolboyError
	if As(err, &pbErr) {
		return pbErr.Severity()
	}
	return SeverityError
}

// IsFatal reports whether err must abort a reconciliation run. A lock that
// cannot be dated is the only per-lock condition a run survives.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, ErrHistoryUnavailable)
}
