package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/core"
)

// Student is a materialized roster entry held by the memory store.
type Student struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	AcademicYearID uuid.UUID
	ClassName      string
	Row            core.CandidateRow
}

// Memory is an in-process Store. It backs the handler and service tests
// and the DB_IN_MEMORY development mode.
type Memory struct {
	mu       sync.Mutex
	years    map[uuid.UUID]core.AcademicYear
	classes  map[uuid.UUID][]string
	students map[uuid.UUID]map[string]Student
	audits   []core.ImportAudit

	// FailOn, when set, is consulted before each row write; a non-nil
	// result becomes that row's error.
	FailOn func(core.StudentWrite) error
	// BeginErr, when set, is returned by BeginBatch.
	BeginErr error

	batchesBegun int
	writes       int
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		years:    make(map[uuid.UUID]core.AcademicYear),
		classes:  make(map[uuid.UUID][]string),
		students: make(map[uuid.UUID]map[string]Student),
	}
}

// AddAcademicYear registers a year for a tenant and returns it.
func (m *Memory) AddAcademicYear(tenantID uuid.UUID, name string) core.AcademicYear {
	m.mu.Lock()
	defer m.mu.Unlock()

	y := core.AcademicYear{ID: uuid.New(), TenantID: tenantID, Name: name, Active: true}
	m.years[y.ID] = y
	return y
}

// AddClass registers a class name for a tenant.
func (m *Memory) AddClass(tenantID uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[tenantID] = append(m.classes[tenantID], name)
}

// AddStudent registers an existing admission number for a tenant.
func (m *Memory) AddStudent(tenantID uuid.UUID, admissionNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(Student{
		ID:       uuid.New(),
		TenantID: tenantID,
		Row:      core.CandidateRow{AdmissionNumber: admissionNumber},
	})
}

// Students returns a tenant's students ordered by admission number.
func (m *Memory) Students(tenantID uuid.UUID) []Student {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Student, 0, len(m.students[tenantID]))
	for _, s := range m.students[tenantID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Row.AdmissionNumber < out[j].Row.AdmissionNumber
	})
	return out
}

// BatchesBegun reports how many batches were opened.
func (m *Memory) BatchesBegun() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchesBegun
}

// Writes reports how many WriteStudent calls were made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) putLocked(s Student) {
	if m.students[s.TenantID] == nil {
		m.students[s.TenantID] = make(map[string]Student)
	}
	m.students[s.TenantID][admissionKey(s.Row.AdmissionNumber)] = s
}

// ReferenceSnapshot implements core.ReferenceReader.
func (m *Memory) ReferenceSnapshot(_ context.Context, tenantID uuid.UUID) (core.ReferenceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := core.ReferenceSnapshot{
		ClassNames: slices.Clone(m.classes[tenantID]),
	}
	for _, s := range m.students[tenantID] {
		snap.AdmissionNumbers = append(snap.AdmissionNumbers, s.Row.AdmissionNumber)
	}
	sort.Strings(snap.AdmissionNumbers)
	return snap, nil
}

// FindAcademicYear implements core.AcademicYearFinder.
func (m *Memory) FindAcademicYear(_ context.Context, tenantID, yearID uuid.UUID) (*core.AcademicYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	y, ok := m.years[yearID]
	if !ok || y.TenantID != tenantID {
		return nil, core.ErrAcademicYearNotFound
	}
	return &y, nil
}

// RecordImport implements core.AuditRecorder.
func (m *Memory) RecordImport(_ context.Context, a core.ImportAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, a)
	return nil
}

// ListImports implements core.AuditRecorder.
func (m *Memory) ListImports(_ context.Context, tenantID uuid.UUID, limit int) ([]core.ImportAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.ImportAudit
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audits[i].TenantID == tenantID {
			out = append(out, m.audits[i])
		}
	}
	return out, nil
}

// BeginBatch implements core.BatchBeginner. Writes are staged and applied
// on Commit.
func (m *Memory) BeginBatch(_ context.Context) (core.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	m.batchesBegun++
	return &memoryBatch{m: m, pending: make(map[string]Student)}, nil
}

type memoryBatch struct {
	m       *Memory
	pending map[string]Student
	done    bool
}

var errBatchClosed = errors.New("batch already closed")

func (b *memoryBatch) WriteStudent(_ context.Context, w core.StudentWrite) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if b.done {
		return errBatchClosed
	}
	b.m.writes++

	if b.m.FailOn != nil {
		if err := b.m.FailOn(w); err != nil {
			return err
		}
	}

	key := admissionKey(w.Row.AdmissionNumber)
	if _, ok := b.m.students[w.TenantID][key]; ok {
		return core.NewWriteError(core.FailureDuplicate,
			"admission number "+w.Row.AdmissionNumber+" already exists", nil)
	}
	if _, ok := b.pending[key]; ok {
		return core.NewWriteError(core.FailureDuplicate,
			"admission number "+w.Row.AdmissionNumber+" already exists", nil)
	}

	className, ok := b.m.findClassLocked(w.TenantID, w.Row.ClassName)
	if !ok {
		return core.NewWriteError(core.FailureClassNotFound,
			"class "+w.Row.ClassName+" not found", nil)
	}

	b.pending[key] = Student{
		ID:             uuid.New(),
		TenantID:       w.TenantID,
		AcademicYearID: w.AcademicYearID,
		ClassName:      className,
		Row:            w.Row,
	}
	return nil
}

func (b *memoryBatch) Commit(_ context.Context) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if b.done {
		return errBatchClosed
	}
	b.done = true
	for _, s := range b.pending {
		b.m.putLocked(s)
	}
	return nil
}

func (b *memoryBatch) Rollback(_ context.Context) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.done = true
	b.pending = nil
	return nil
}

func (m *Memory) findClassLocked(tenantID uuid.UUID, name string) (string, bool) {
	for _, c := range m.classes[tenantID] {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

func admissionKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
