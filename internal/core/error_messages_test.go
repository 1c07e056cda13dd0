package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"file too large", ErrFileTooLarge, "FILE001"},
		{"wrapped file too large", fmt.Errorf("preview: %w", ErrFileTooLarge), "FILE001"},
		{"unsupported type", ErrUnsupportedFileType, "FILE002"},
		{"unreadable workbook", fmt.Errorf("%w: zip: not a valid zip file", ErrUnreadableFile), "FILE003"},
		{"no file", ErrNoFile, "FILE004"},
		{"empty file", ErrEmptyFile, "FILE005"},
		{"header error", &HeaderError{Message: "missing required columns: last name"}, "VAL001"},
		{"missing academic year", ErrMissingAcademicYear, "VAL002"},
		{"bad academic year id", ErrInvalidAcademicYearID, "VAL003"},
		{"academic year not found", fmt.Errorf("commit: %w", ErrAcademicYearNotFound), "CTX001"},
		{"unauthorized", ErrUnauthorized, "CTX002"},
		{"forbidden", ErrForbidden, "CTX003"},
		{"too many imports", ErrTooManyImports, "IMP001"},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"unique constraint", errors.New("ERROR: unique constraint violated"), "DB002"},
		{"foreign key", errors.New("violates foreign key constraint"), "DB003"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"deadlock", errors.New("deadlock detected"), "DB005"},
		{"deadline", errors.New("context deadline exceeded"), "DB006"},
		{"required value", errors.New("last name is required"), "VAL004"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001"},
		{"unknown", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, MapError(tt.err).Code)
		})
	}
}

func TestMapError_HeaderMessageSurfaced(t *testing.T) {
	msg := MapError(&HeaderError{Message: "missing required columns: class"})
	assert.Equal(t, "Missing required columns: class", msg.Message)
	assert.NotEmpty(t, msg.Action)
}

func TestMapError_WriteErrorUnwraps(t *testing.T) {
	err := NewWriteError(FailureInternal, "write student", errors.New("connection reset by peer"))
	assert.Equal(t, "DB005", MapError(err).Code)
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyImports)
	assert.Equal(t, "System is busy processing other imports (Code: IMP001). Please wait a moment and try again", got)
	assert.Empty(t, FormatUserError(nil))
}

func TestIsUserFacing(t *testing.T) {
	assert.False(t, IsUserFacing(nil))
	assert.True(t, IsUserFacing(ErrEmptyFile))
	assert.True(t, IsUserFacing(errors.New("duplicate key")))
	assert.False(t, IsUserFacing(errors.New("random internal error xyz")))
}
