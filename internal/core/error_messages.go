package core

// # Error Codes Reference
//
// Every error surfaced to an administrator carries a code they can quote to
// support. Known sentinel errors are matched first with errors.Is/As, then
// the technical message is searched for substring patterns.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large            ErrFileTooLarge
//	FILE002 - Unsupported file type     ErrUnsupportedFileType
//	FILE003 - Unreadable spreadsheet    ErrUnreadableFile, "encoding error"
//	FILE004 - No file                   ErrNoFile
//	FILE005 - Empty file                ErrEmptyFile
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Header problem             *HeaderError, "missing required column"
//	VAL002 - Academic year missing      ErrMissingAcademicYear
//	VAL003 - Academic year id invalid   ErrInvalidAcademicYearID
//	VAL004 - Required value missing     "is required"
//
// # Context Errors (CTX001-CTX099)
//
//	CTX001 - Academic year not found    ErrAcademicYearNotFound
//	CTX002 - Not signed in              ErrUnauthorized
//	CTX003 - Not allowed                ErrForbidden
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key               "duplicate key"
//	DB002 - Unique constraint           "unique constraint", "violates unique"
//	DB003 - Foreign key                 "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused          "connection refused"
//	DB005 - Connection reset            "connection reset", "deadlock"
//	DB006 - Timeout                     "timeout", "context deadline exceeded"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy                ErrTooManyImports
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests         "rate limit"
//
// # Default (ERR000)
//
// Fallback when nothing matches. Check the server log for the request id.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

// sentinelMessages are checked with errors.Is before any pattern matching.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the roster into smaller files",
		Code:    "FILE001",
	}},
	{ErrUnsupportedFileType, UserMessage{
		Message: "This file type is not supported",
		Action:  "Upload a .csv, .tsv, .txt or .xlsx file",
		Code:    "FILE002",
	}},
	{ErrUnreadableFile, UserMessage{
		Message: "The spreadsheet could not be read",
		Action:  "Re-save the workbook as .xlsx or export it as CSV",
		Code:    "FILE003",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select a roster file to upload",
		Code:    "FILE004",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file has no student rows",
		Action:  "Add at least one student below the header row",
		Code:    "FILE005",
	}},
	{ErrMissingAcademicYear, UserMessage{
		Message: "No academic year was selected",
		Action:  "Choose the academic year to enroll students into",
		Code:    "VAL002",
	}},
	{ErrInvalidAcademicYearID, UserMessage{
		Message: "The academic year reference is not valid",
		Action:  "Reload the page and choose the academic year again",
		Code:    "VAL003",
	}},
	{ErrAcademicYearNotFound, UserMessage{
		Message: "Academic year not found",
		Action:  "Choose an academic year that belongs to your school",
		Code:    "CTX001",
	}},
	{ErrUnauthorized, UserMessage{
		Message: "You are not signed in",
		Action:  "Sign in again and retry",
		Code:    "CTX002",
	}},
	{ErrForbidden, UserMessage{
		Message: "You are not allowed to import students",
		Action:  "Ask a school administrator to run the import",
		Code:    "CTX003",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}},
}

var headerMessage = UserMessage{
	Message: "Required columns are missing from the file",
	Action:  "Download the template and check the header row",
	Code:    "VAL001",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A student with this admission number already exists",
			Action:  "Remove the duplicate rows and import again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that the class and academic year still exist",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that the class and academic year still exist",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB006)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Import timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Validation and File Errors
	// =========================================================================
	{
		pattern: "missing required column",
		msg:     headerMessage,
	},
	{
		pattern: "is required",
		msg: UserMessage{
			Message: "A required value is empty",
			Action:  "Fill in admission number, names and class for every row",
			Code:    "VAL004",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file with UTF-8 encoding",
			Code:    "FILE003",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinel errors are matched first; then the error text is searched
// case-insensitively for known patterns. Unmatched errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	var headerErr *HeaderError
	if errors.As(err, &headerErr) {
		msg := headerMessage
		if headerErr.Message != "" {
			msg.Message = strings.ToUpper(headerErr.Message[:1]) + headerErr.Message[1:]
		}
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
