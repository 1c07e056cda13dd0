package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/logging"
)

// DefaultHistoryLimit is the default number of audit entries returned.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps a single history request.
const MaxHistoryLimit = 500

// ContentHash returns the hex SHA-256 of an uploaded file.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordAudit writes the audit trail for a finished commit. Failures are
// logged and never change the commit outcome.
func (s *Service) recordAudit(ctx context.Context, tenantID, yearID uuid.UUID, u Upload, res ImportResult) {
	entry := ImportAudit{
		ID:             uuid.New(),
		TenantID:       tenantID,
		AcademicYearID: yearID,
		FileName:       u.FileName,
		ContentSHA256:  ContentHash(u.Data),
		Actor:          u.Actor,
		ClientIP:       ClientIPFromContext(ctx),
		TotalRows:      res.TotalRows,
		SuccessCount:   res.SuccessCount,
		FailureCount:   res.FailureCount,
		DurationMs:     res.DurationMs,
		CompletedAt:    res.CompletedAt,
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.RecordImport(auditCtx, entry); err != nil {
		logging.FromContext(ctx).Error("record import audit failed",
			"error", err,
			"sha256", entry.ContentSHA256,
		)
	}
}

// History returns the most recent commits for a tenant, newest first.
func (s *Service) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]ImportAudit, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.ListImports(ctx, tenantID, limit)
}
