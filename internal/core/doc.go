// Package core provides the business logic for student roster imports.
//
// The package holds all domain logic independent of any transport or
// storage engine. Web handlers, the importctl CLI and tests drive it
// through [Service] and plug storage in through the [Store] interface.
//
// # Pipeline
//
// Data flows one way: raw bytes, candidate rows, validated rows, persisted
// rows, result report.
//
//  1. [Parse] (CSV) or [ParseXLSX] turns a file into [CandidateRow] values,
//     resolving header aliases and normalizing dates and genders.
//  2. [Validate] checks the rows against a [ReferenceSnapshot] of the
//     tenant: known classes, existing admission numbers, duplicates within
//     the file, email shape and dates of birth.
//  3. [Writer.CommitRows] writes valid rows in one [Batch]. A failed row
//     becomes a [RowOutcome] and the remaining rows are still written.
//
// [Service.Preview] runs steps 1 and 2 and never writes. [Service.Commit]
// re-runs them from the raw file against a fresh snapshot and refuses to
// write anything if any row carries an ERROR.
//
// # Concurrency
//
// Commits pass through an [ImportLimiter]. When every slot stays busy for
// the configured wait, Commit fails with [ErrTooManyImports].
//
// # Error Handling
//
// Structural problems ([HeaderError], [ErrEmptyFile], [ErrUnreadableFile])
// and context problems ([ErrAcademicYearNotFound], [ErrFileTooLarge]) are
// returned as errors. Row problems are reported as [ImportError] values.
// [MapError] turns any error into a [UserMessage] with a support code:
//
//   - FILE001-FILE005: File errors (size, type, encoding, empty)
//   - VAL001-VAL004: Validation errors (columns, academic year, values)
//   - CTX001-CTX003: Tenant context (not found, unauthorized, forbidden)
//   - DB001-DB006: Database errors (duplicates, constraints, connections)
//   - IMP001: Import limiter busy
package core
