// Package errors provides severity-aware error types for pipeline stages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error codes
const (
	ErrCodeMissingInput = "MISSING_INPUT"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeParseWarning = "PARSE_WARNING"
)

// MissingInputError reports a required file or table that is absent.
// It aborts the current stage only.
type MissingInputError struct {
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
	Cause  error  `json:"-"`
}

func (e *MissingInputError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s input not found", SeverityError, ErrCodeMissingInput, e.Source)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MissingInputError) Unwrap() error { return e.Cause }

// Code returns the stable error code.
func (e *MissingInputError) Code() string { return ErrCodeMissingInput }

// Severity returns the impact level.
func (e *MissingInputError) Severity() Severity { return SeverityError }

// InvalidInputError reports a source that is present but empty or structurally malformed.
// Row is the 1-based data row (0 when the problem is not tied to a row).
type InvalidInputError struct {
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
	Row    int    `json:"row,omitempty"`
	Reason string `json:"reason"`
}

func (e *InvalidInputError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s: %s", SeverityError, ErrCodeInvalidInput, e.Source, e.Reason)
	if e.Row > 0 {
		msg += fmt.Sprintf(" (row %d)", e.Row)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	return msg
}

// Code returns the stable error code.
func (e *InvalidInputError) Code() string { return ErrCodeInvalidInput }

// Severity returns the impact level.
func (e *InvalidInputError) Severity() Severity { return SeverityError }

// ParseWarning records a field that could not be parsed to a price and was set to null.
// It is never returned as a stage error; processing continues for the record.
type ParseWarning struct {
	Source string `json:"source"`
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Key    string `json:"key"`
	Raw    string `json:"raw"`
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("[%s] %s: %s row %d (%s): cannot parse %s=%q",
		SeverityWarning, ErrCodeParseWarning, w.Source, w.Row, w.Key, w.Field, w.Raw)
}

// Code returns the stable error code.
func (w *ParseWarning) Code() string { return ErrCodeParseWarning }

// Severity returns the impact level.
func (w *ParseWarning) Severity() Severity { return SeverityWarning }

// NewMissingInputError creates an error for an absent source.
func NewMissingInputError(source, path string, cause error) *MissingInputError {
	return &MissingInputError{Source: source, Path: path, Cause: cause}
}

// NewInvalidInputError creates an error for a malformed source.
func NewInvalidInputError(source, path string, row int, format string, args ...any) *InvalidInputError {
	return &InvalidInputError{
		Source: source,
		Path:   path,
		Row:    row,
		Reason: fmt.Sprintf(format, args...),
	}
}

// NewEmptyInputError creates an error for a source with no data rows.
func NewEmptyInputError(source, path string) *InvalidInputError {
	return &InvalidInputError{Source: source, Path: path, Reason: "table has no data rows"}
}

// IsMissingInput reports whether err wraps a MissingInputError.
func IsMissingInput(err error) bool {
	var target *MissingInputError
	return stderrors.As(err, &target)
}

// IsInvalidInput reports whether err wraps an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return stderrors.As(err, &target)
}
