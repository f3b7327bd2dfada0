package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidInput indicates that the provided input is invalid
	// (empty content, missing owner).
	ErrInvalidInput = errors.New("invalid input")

	// ErrContentTooLong indicates that content exceeds the configured
	// maximum length.
	ErrContentTooLong = errors.New("content exceeds maximum length")

	// ErrInvalidMemoryType indicates an unknown memory type.
	ErrInvalidMemoryType = errors.New("invalid memory type")

	// ErrImportanceOutOfRange indicates an importance hint outside [0, 1].
	ErrImportanceOutOfRange = errors.New("importance out of range")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates that embedding generation failed after
	// all retries.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)

// EngineError wraps errors with operation context.
//
// It provides additional context about which operation failed, making
// error messages more informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Ingest",
//	    Err: ErrContentTooLong,
//	}
//	// Error() returns: "semmem: Ingest: content exceeds maximum length"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "semmem: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("semmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Ingest", err)
//	}
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
