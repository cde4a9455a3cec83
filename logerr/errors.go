// Package logerr defines the typed error taxonomy the storage engine
// surfaces to callers: overwrite, data-corruption, io, and
// version-mismatch. Not-found is deliberately not part of this taxonomy —
// it is a normal outcome of read, represented by the plain sentinel error
// ErrNotFound rather than by a coded error type.
package logerr

import (
	"errors"
	"fmt"
)

// Code categorizes an error for programmatic handling, independent of its
// message text.
type Code string

const (
	CodeOverwrite        Code = "OVERWRITE"
	CodeCorruption       Code = "CORRUPTION"
	CodeIO               Code = "IO"
	CodeVersionMismatch  Code = "VERSION_MISMATCH"
)

// baseError carries a cause, a code, a human message, and structured
// details, and supports errors.Is/errors.As through Unwrap.
type baseError struct {
	cause   error
	code    Code
	message string
	details map[string]any
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *baseError) Unwrap() error { return e.cause }

// Code returns the error's category.
func (e *baseError) Code() Code { return e.code }

// Details returns the structured context attached to the error.
func (e *baseError) Details() map[string]any { return e.details }

// WithDetail attaches a key/value pair of diagnostic context.
func (e *baseError) WithDetail(key string, value any) *baseError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// OverwriteError is returned by append when the target address is already
// present in a segment's known or trimmed set.
type OverwriteError struct{ *baseError }

// NewOverwrite builds an OverwriteError for the given address.
func NewOverwrite(address string) *OverwriteError {
	return &OverwriteError{&baseError{
		code:    CodeOverwrite,
		message: "address already written",
		details: map[string]any{"address": address},
	}}
}

// CorruptionError is returned when a checksum fails to verify or a record
// body fails to decode. A frame whose declared length runs past the end of
// the segment is not reported as corruption: readers treat it as a torn
// tail and stop scanning there.
type CorruptionError struct{ *baseError }

// NewCorruption builds a CorruptionError wrapping the underlying cause.
func NewCorruption(cause error, context string) *CorruptionError {
	return &CorruptionError{&baseError{
		cause:   cause,
		code:    CodeCorruption,
		message: "data corruption detected: " + context,
	}}
}

// IOError wraps an underlying I/O failure from the filesystem.
type IOError struct{ *baseError }

// NewIO builds an IOError wrapping the underlying cause.
func NewIO(cause error, op string) *IOError {
	return &IOError{&baseError{
		cause:   cause,
		code:    CodeIO,
		message: "I/O failure during " + op,
	}}
}

// VersionMismatchError is fatal during startup verification: a segment's
// file header carries a version the engine does not recognize.
type VersionMismatchError struct{ *baseError }

// NewVersionMismatch builds a VersionMismatchError.
func NewVersionMismatch(path string, want, got uint32) *VersionMismatchError {
	return &VersionMismatchError{&baseError{
		code:    CodeVersionMismatch,
		message: fmt.Sprintf("segment %s: expected version %d, got %d", path, want, got),
		details: map[string]any{"path": path, "want": want, "got": got},
	}}
}

// IsOverwrite reports whether err is, or wraps, an OverwriteError.
func IsOverwrite(err error) bool {
	var e *OverwriteError
	return errors.As(err, &e)
}

// IsCorruption reports whether err is, or wraps, a CorruptionError.
func IsCorruption(err error) bool {
	var e *CorruptionError
	return errors.As(err, &e)
}

// IsIO reports whether err is, or wraps, an IOError.
func IsIO(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// IsVersionMismatch reports whether err is, or wraps, a VersionMismatchError.
func IsVersionMismatch(err error) bool {
	var e *VersionMismatchError
	return errors.As(err, &e)
}

// ErrNotFound is the sentinel returned by read when no record at the
// target address exists in its segment. It is not part of the Code
// taxonomy above: spec.md classifies not-found as a normal outcome, not
// an error condition worth structured logging.
var ErrNotFound = errors.New("logfabric: record not found")
