// Package store implements the core storage collaborators: a PostgreSQL
// store on pgx and an in-memory store for tests and local development.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// PostgreSQL error codes the batch classifies.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
)

// Options controls optional write behaviour.
type Options struct {
	// CreateAccounts adds a student portal account per imported student,
	// with the admission number as the initial password.
	CreateAccounts bool
	PasswordCost   int
}

// Postgres implements core.Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool, opts Options) *Postgres {
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	return &Postgres{pool: pool, opts: opts}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ReferenceSnapshot implements core.ReferenceReader.
func (p *Postgres) ReferenceSnapshot(ctx context.Context, tenantID uuid.UUID) (core.ReferenceSnapshot, error) {
	var snap core.ReferenceSnapshot

	classes, err := queryStrings(ctx, p.pool,
		`SELECT name FROM classes WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return snap, fmt.Errorf("load classes: %w", err)
	}

	admissions, err := queryStrings(ctx, p.pool,
		`SELECT admission_number FROM students WHERE tenant_id = $1 ORDER BY admission_number`, tenantID)
	if err != nil {
		return snap, fmt.Errorf("load admission numbers: %w", err)
	}

	snap.ClassNames = classes
	snap.AdmissionNumbers = admissions
	return snap, nil
}

func queryStrings(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// FindAcademicYear implements core.AcademicYearFinder.
func (p *Postgres) FindAcademicYear(ctx context.Context, tenantID, yearID uuid.UUID) (*core.AcademicYear, error) {
	var y core.AcademicYear
	err := p.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, active FROM academic_years WHERE id = $1 AND tenant_id = $2`,
		yearID, tenantID,
	).Scan(&y.ID, &y.TenantID, &y.Name, &y.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrAcademicYearNotFound
	}
	if err != nil {
		return nil, err
	}
	return &y, nil
}

// RecordImport implements core.AuditRecorder.
func (p *Postgres) RecordImport(ctx context.Context, a core.ImportAudit) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO import_audits (id, tenant_id, academic_year_id, file_name, content_sha256,
			actor, client_ip, total_rows, success_count, failure_count, duration_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.TenantID, a.AcademicYearID, a.FileName, a.ContentSHA256,
		pgText(a.Actor), pgText(a.ClientIP), a.TotalRows, a.SuccessCount, a.FailureCount, a.DurationMs,
		pgtype.Timestamptz{Time: a.CompletedAt, Valid: true},
	)
	return err
}

// ListImports implements core.AuditRecorder.
func (p *Postgres) ListImports(ctx context.Context, tenantID uuid.UUID, limit int) ([]core.ImportAudit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, academic_year_id, file_name, content_sha256, actor, client_ip,
			total_rows, success_count, failure_count, duration_ms, completed_at
		FROM import_audits
		WHERE tenant_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]core.ImportAudit, 0)
	for rows.Next() {
		var (
			a           core.ImportAudit
			actor       pgtype.Text
			clientIP    pgtype.Text
			completedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.AcademicYearID, &a.FileName, &a.ContentSHA256, &actor, &clientIP,
			&a.TotalRows, &a.SuccessCount, &a.FailureCount, &a.DurationMs, &completedAt,
		); err != nil {
			return nil, err
		}
		a.Actor = actor.String
		a.ClientIP = clientIP.String
		a.CompletedAt = completedAt.Time
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// BeginBatch implements core.BatchBeginner. Each WriteStudent runs inside
// its own savepoint so a failed row leaves the transaction usable.
func (p *Postgres) BeginBatch(ctx context.Context) (core.Batch, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgBatch{tx: tx, opts: p.opts}, nil
}

type pgBatch struct {
	tx   pgx.Tx
	opts Options
	seq  int
}

func (b *pgBatch) WriteStudent(ctx context.Context, w core.StudentWrite) error {
	savepoint := fmt.Sprintf("sp_%d", b.seq)
	b.seq++

	if _, err := b.tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := b.insertStudent(ctx, w); err != nil {
		if _, rbErr := b.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return fmt.Errorf("rollback savepoint after %v: %w", err, rbErr)
		}
		return classifyWriteError(err)
	}

	if _, err := b.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (b *pgBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *pgBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// insertStudent writes the student, its enrollment, the guardian contact
// and optionally a portal account.
func (b *pgBatch) insertStudent(ctx context.Context, w core.StudentWrite) error {
	row := w.Row

	var classID uuid.UUID
	err := b.tx.QueryRow(ctx,
		`SELECT id FROM classes WHERE tenant_id = $1 AND lower(name) = lower($2)`,
		w.TenantID, row.ClassName,
	).Scan(&classID)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NewWriteError(core.FailureClassNotFound, fmt.Sprintf("class %q no longer exists", row.ClassName), nil)
	}
	if err != nil {
		return fmt.Errorf("find class: %w", err)
	}

	studentID := uuid.New()
	_, err = b.tx.Exec(ctx,
		`INSERT INTO students (id, tenant_id, admission_number, first_name, last_name,
			date_of_birth, gender, email, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		studentID, w.TenantID, row.AdmissionNumber, row.FirstName, row.LastName,
		pgDate(row.DateOfBirth), pgText(string(row.Gender)), pgText(row.Email), pgText(row.Address),
	)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}

	_, err = b.tx.Exec(ctx,
		`INSERT INTO enrollments (id, student_id, academic_year_id, class_id) VALUES ($1, $2, $3, $4)`,
		uuid.New(), studentID, w.AcademicYearID, classID,
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	if row.HasGuardian() {
		_, err = b.tx.Exec(ctx,
			`INSERT INTO guardians (id, student_id, name, phone, email) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), studentID, pgText(row.GuardianName), pgText(row.GuardianPhone), pgText(row.GuardianEmail),
		)
		if err != nil {
			return fmt.Errorf("insert guardian: %w", err)
		}
	}

	if b.opts.CreateAccounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(row.AdmissionNumber), b.opts.PasswordCost)
		if err != nil {
			return fmt.Errorf("hash initial password: %w", err)
		}
		_, err = b.tx.Exec(ctx,
			`INSERT INTO student_accounts (student_id, tenant_id, username, password_hash) VALUES ($1, $2, $3, $4)`,
			studentID, w.TenantID, strings.ToLower(row.AdmissionNumber), string(hash),
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
	}

	return nil
}

// classifyWriteError turns a failed row insert into a *core.WriteError.
func classifyWriteError(err error) error {
	var we *core.WriteError
	if errors.As(err, &we) {
		return we
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return core.NewWriteError(core.FailureDuplicate, "admission number or username already exists", err)
		case pgForeignKeyViolation, pgNotNullViolation, pgCheckViolation:
			return core.NewWriteError(core.FailureConstraint, pgErr.Message, err)
		}
	}

	return core.NewWriteError(core.FailureInternal, "could not save student", err)
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func pgDate(iso string) pgtype.Date {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}
