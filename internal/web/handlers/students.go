package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/database"
)

// StudentsHandler handles enrollment and student management endpoints.
type StudentsHandler struct {
	students database.StudentStore
	enroller *attendance.Enroller
	stats    *StatsHandler
}

// NewStudentsHandler creates a new students handler. Writes invalidate the
// stats cache.
func NewStudentsHandler(students database.StudentStore, enroller *attendance.Enroller, stats *StatsHandler) *StudentsHandler {
	return &StudentsHandler{
		students: students,
		enroller: enroller,
		stats:    stats,
	}
}

// StudentResponse is the wire form of a student.
type StudentResponse struct {
	StudentNo      string    `json:"student_no"`
	FullName       string    `json:"full_name"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingCount int       `json:"embedding_count"`
}

func studentResponse(s *database.Student) StudentResponse {
	return StudentResponse{
		StudentNo:      s.StudentNo,
		FullName:       s.FullName,
		CreatedAt:      s.CreatedAt,
		EmbeddingCount: s.EmbeddingCount,
	}
}

type enrollResponse struct {
	Student  StudentResponse           `json:"student"`
	Accepted int                       `json:"accepted_photos"`
	Skipped  []attendance.SkippedImage `json:"skipped,omitempty"`
}

// Enroll registers a student from a multipart form: student_no, full_name and
// one or more photo files under "photos". Photos without a usable face are
// reported back as skipped; when none are usable the enrollment is rejected.
func (h *StudentsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	studentNo := r.FormValue("student_no")
	if studentNo == "" {
		respondError(w, http.StatusBadRequest, "student_no is required")
		return
	}
	fullName := r.FormValue("full_name")
	if fullName == "" {
		respondError(w, http.StatusBadRequest, "full_name is required")
		return
	}
	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no photos provided")
		return
	}

	images, err := readUploadedImages(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.enroller.Enroll(r.Context(), studentNo, fullName, images)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.stats.InvalidateCache()
	respondJSON(w, http.StatusCreated, enrollResponse{
		Student:  studentResponse(result.Student),
		Accepted: result.Accepted,
		Skipped:  result.Skipped,
	})
}

// readUploadedImages loads multipart photo uploads into memory.
func readUploadedImages(files []*multipart.FileHeader) ([]attendance.NamedImage, error) {
	images := make([]attendance.NamedImage, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("could not open %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("could not read %s", fh.Filename)
		}
		images = append(images, attendance.NamedImage{Name: fh.Filename, Data: data})
	}
	return images, nil
}

// List returns all students with their embedding counts.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := make([]StudentResponse, len(students))
	for i := range students {
		resp[i] = studentResponse(&students[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns one student by number.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	studentNo := chi.URLParam(r, "studentNo")

	student, err := h.students.GetByNo(r.Context(), studentNo)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if student == nil {
		respondError(w, http.StatusNotFound, "student not found")
		return
	}
	respondJSON(w, http.StatusOK, studentResponse(student))
}

// Delete removes a student together with its embeddings.
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	studentNo := chi.URLParam(r, "studentNo")

	deleted, err := h.enroller.Delete(r.Context(), studentNo)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "student not found")
		return
	}

	h.stats.InvalidateCache()
	w.WriteHeader(http.StatusNoContent)
}

type addEmbeddingRequest struct {
	Vector []float32 `json:"vector"`
}

// AddEmbedding stores one additional embedding vector for a student.
func (h *StudentsHandler) AddEmbedding(w http.ResponseWriter, r *http.Request) {
	studentNo := chi.URLParam(r, "studentNo")

	var req addEmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Vector) == 0 {
		respondError(w, http.StatusBadRequest, "vector is required")
		return
	}

	id, err := h.enroller.AddVector(r.Context(), studentNo, req.Vector)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.stats.InvalidateCache()
	respondJSON(w, http.StatusCreated, map[string]any{"embedding_id": id})
}
