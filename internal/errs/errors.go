// Package errs provides the unified error type used across dbcontext.
//
// Every subsystem (database executors, the metadata cache, the snapshot
// store, the HTTP server) wraps its native errors into *errs.Error before
// returning them. Callers use the Is* predicates to branch on error kind
// without importing driver-specific packages.
//
// Usage:
//
//	// In an executor — wrap native errors:
//	return errs.Wrap(errs.ErrKindQueryFailed, "describe table failed", pgErr)
//
//	// In a handler — check error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // table absent from the index, even after an attempted resolve
	ErrKindFetchFailed              // backend error while resolving table detail; never cached
	ErrKindSnapshotInvalid          // unreadable or version-mismatched snapshot; recovered by cold build
	ErrKindConnectionFailed         // cannot reach the database
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // metadata query error
	ErrKindInvalidInput             // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindFetchFailed:
		return "fetch_failed"
	case ErrKindSnapshotInvalid:
		return "snapshot_invalid"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all dbcontext subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// FetchFailed wraps a backend resolve error with the table name and the
// error kind only. The raw backend text stays in the cause chain for
// logging and is never part of the message shown to tool callers.
func FetchFailed(table string, cause error) *Error {
	return &Error{
		Kind:    ErrKindFetchFailed,
		Message: fmt.Sprintf("failed to resolve detail for table %s (%s)", table, kindOf(cause)),
		Cause:   cause,
	}
}

// IsNotFound reports whether err represents an unknown table.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsFetchFailed reports whether err is a backend failure during detail resolution.
func IsFetchFailed(err error) bool {
	return kindOf(err) == ErrKindFetchFailed
}

// IsSnapshotInvalid reports whether err marks a snapshot that cannot be loaded.
func IsSnapshotInvalid(err error) bool {
	return kindOf(err) == ErrKindSnapshotInvalid
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a metadata query failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
