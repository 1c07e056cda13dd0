package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/core"
)

// multipartOverhead is allowed on top of the file size limit for the form
// boundaries and the academic_year_id field.
const multipartOverhead = 1 << 20

// handlePreview parses and validates an uploaded roster without writing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	upload, err := s.readUpload(w, r, c)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp, err := s.service.Preview(r.Context(), c.TenantID, upload)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCommit imports an uploaded roster into an academic year. A file
// refused at validation returns 422 with the full report and nothing written.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	upload, err := s.readUpload(w, r, c)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	yearID, err := parseAcademicYearID(r.FormValue("academic_year_id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp, err := s.service.Commit(r.Context(), c.TenantID, yearID, upload)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.CompletedAt == nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// handleTemplate downloads the CSV template.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="student_import_template.csv"`)
	w.Write(core.Template())
}

// historyResponse wraps the audit list for JSON encoding.
type historyResponse struct {
	Imports []core.ImportAudit `json:"imports"`
}

// handleHistory lists the tenant's most recent commits.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := parseIntParam(r, "limit", core.DefaultHistoryLimit)
	entries, err := s.service.History(r.Context(), c.TenantID, limit)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("list imports: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Imports: entries})
}

// readUpload reads the multipart "file" field. Oversized bodies map to
// core.ErrFileTooLarge and a missing field to core.ErrNoFile; the size
// and type rules themselves are enforced by the service.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, c caller) (core.Upload, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Upload{}, core.ErrFileTooLarge
		}
		return core.Upload{}, fmt.Errorf("%w: %v", core.ErrNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Upload{}, core.ErrNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return core.Upload{}, fmt.Errorf("read upload: %w", err)
	}

	return core.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Actor:       c.Actor,
	}, nil
}

// parseAcademicYearID validates the academic_year_id form field.
func parseAcademicYearID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, core.ErrMissingAcademicYear
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", core.ErrInvalidAcademicYearID, raw)
	}
	return id, nil
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
