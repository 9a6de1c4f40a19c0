package zarrpeek

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is reported by a Store when the requested key does not
// exist. A missing chunk key is not a failure; the fetch engine substitutes
// the array's fill value.
var ErrKeyNotFound = errors.New("zarrpeek: key not found")

// MetadataError indicates the store's array or multiscale metadata is
// missing, malformed, or declares something outside the supported schema.
// No render is possible.
type MetadataError struct {
	Key    string // store key that was being resolved, if any
	Reason string
	Err    error
}

func (e *MetadataError) Error() string {
	msg := "zarrpeek: bad metadata"
	if e.Key != "" {
		msg += " at " + e.Key
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MetadataError) Unwrap() error { return e.Err }

func metadataErrf(key, format string, args ...any) *MetadataError {
	return &MetadataError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// SelectorError indicates a user-supplied axis, index, range or resolution
// selection is invalid against the resolved array shape.
type SelectorError struct {
	Axis   string // offending axis (or "level" for resolution selection)
	Reason string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("zarrpeek: invalid selection for %q: %s", e.Axis, e.Reason)
}

func selectorErrf(axis, format string, args ...any) *SelectorError {
	return &SelectorError{Axis: axis, Reason: fmt.Sprintf(format, args...)}
}

// FetchError indicates a transport or storage failure while reading a
// required chunk. Missing keys are not fetch errors (see ErrKeyNotFound).
type FetchError struct {
	Key   string
	Chunk []int // chunk-grid coordinate, nil for non-chunk reads
	Err   error
}

func (e *FetchError) Error() string {
	if e.Chunk != nil {
		return fmt.Sprintf("zarrpeek: fetching chunk %v (key %q): %v", e.Chunk, e.Key, e.Err)
	}
	return fmt.Sprintf("zarrpeek: fetching %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError indicates a fetched chunk payload is corrupt, truncated, or
// compressed with something other than what the metadata declared.
type DecodeError struct {
	Key    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("zarrpeek: decoding chunk %q", e.Key)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NormalizationError indicates degenerate pixel data that makes intensity
// mapping impossible, e.g. a zero-size plane. Constant-valued planes are not
// errors; they fall back to a flat mid-gray.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "zarrpeek: cannot normalize: " + e.Reason
}

// TerminalError indicates no usable terminal graphics capability was
// detected.
type TerminalError struct {
	Reason string
}

func (e *TerminalError) Error() string {
	return "zarrpeek: " + e.Reason
}
