package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/logging"
)

// ContextCheckInterval is how many rows are written between cancellation
// checks.
var ContextCheckInterval = 100

// Writer materializes validated rows inside one batch. A row that fails to
// write is recorded and skipped; earlier and later rows are unaffected.
type Writer struct {
	batches BatchBeginner
	now     func() time.Time
}

// NewWriter creates a Writer over the given batch source.
func NewWriter(b BatchBeginner) *Writer {
	return &Writer{batches: b, now: time.Now}
}

// CommitRows writes rows in order. It returns an error only when the batch
// cannot be opened, committed, or continued; row failures are reported in
// the result.
func (w *Writer) CommitRows(ctx context.Context, tenantID, academicYearID uuid.UUID, rows []CandidateRow) (ImportResult, error) {
	start := w.now()
	log := logging.WithFields(ctx, "academic_year_id", academicYearID, "rows", len(rows))

	batch, err := w.batches.BeginBatch(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("begin batch: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := batch.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	result := ImportResult{
		TotalRows:            len(rows),
		Errors:               []ImportError{},
		SuccessfulRowNumbers: []int{},
		FailedRowNumbers:     []int{},
	}

	for i, row := range rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return ImportResult{}, fmt.Errorf("write cancelled at row %d: %w", row.RowNumber, err)
			}
		}

		outcome, err := writeRow(ctx, batch, StudentWrite{
			TenantID:       tenantID,
			AcademicYearID: academicYearID,
			Row:            row,
		})
		if err != nil {
			return ImportResult{}, fmt.Errorf("write row %d: %w", row.RowNumber, err)
		}

		if outcome.OK {
			result.SuccessCount++
			result.SuccessfulRowNumbers = append(result.SuccessfulRowNumbers, outcome.RowNumber)
			continue
		}

		log.Warn("row write failed",
			"row", outcome.RowNumber,
			"reason", outcome.Reason,
			"message", outcome.Message,
		)
		result.FailureCount++
		result.FailedRowNumbers = append(result.FailedRowNumbers, outcome.RowNumber)
		result.Errors = append(result.Errors, ImportError{
			RowNumber: outcome.RowNumber,
			Field:     reasonField(outcome.Reason),
			Message:   outcome.Message,
			Severity:  SeverityError,
		})
	}

	if err := batch.Commit(ctx); err != nil {
		return ImportResult{}, fmt.Errorf("commit batch: %w", err)
	}
	committed = true

	end := w.now()
	result.CompletedAt = end
	result.DurationMs = end.Sub(start).Milliseconds()

	log.Info("rows written",
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

// writeRow turns a WriteStudent result into a RowOutcome. Errors other than
// *WriteError leave the batch in an unknown state and are returned as-is.
func writeRow(ctx context.Context, batch Batch, sw StudentWrite) (RowOutcome, error) {
	err := batch.WriteStudent(ctx, sw)
	if err == nil {
		return RowOutcome{RowNumber: sw.Row.RowNumber, OK: true}, nil
	}

	var we *WriteError
	if !errors.As(err, &we) {
		return RowOutcome{}, err
	}

	return RowOutcome{
		RowNumber: sw.Row.RowNumber,
		Reason:    we.Reason,
		Message:   we.Message,
	}, nil
}

func reasonField(r FailureReason) string {
	switch r {
	case FailureDuplicate:
		return FieldAdmissionNumber
	case FailureClassNotFound:
		return FieldClassName
	default:
		return FieldRow
	}
}
