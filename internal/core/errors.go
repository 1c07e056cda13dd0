package core

import (
	"errors"
	"fmt"
)

// Context errors. These abort a call before any row is parsed.
var (
	ErrNoFile                = errors.New("no file provided")
	ErrEmptyFile             = errors.New("empty file")
	ErrFileTooLarge          = errors.New("file too large")
	ErrUnsupportedFileType   = errors.New("unsupported file type")
	ErrUnreadableFile        = errors.New("unreadable spreadsheet")
	ErrMissingAcademicYear   = errors.New("academic year is required")
	ErrInvalidAcademicYearID = errors.New("invalid academic year id")
	ErrAcademicYearNotFound  = errors.New("academic year not found")
	ErrTooManyImports        = errors.New("too many imports in progress")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
)

// HeaderError reports a file whose header cannot be resolved.
type HeaderError struct {
	Message string
}

func (e *HeaderError) Error() string {
	return "invalid header: " + e.Message
}

// WriteError is a row-level failure returned by Batch.WriteStudent.
// The batch stays usable after a WriteError.
type WriteError struct {
	Reason  FailureReason
	Message string
	Err     error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return string(e.Reason) + ": " + e.Message
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError builds a WriteError.
func NewWriteError(reason FailureReason, msg string, err error) *WriteError {
	return &WriteError{Reason: reason, Message: msg, Err: err}
}
