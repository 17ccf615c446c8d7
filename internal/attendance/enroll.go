package attendance

import (
	"context"
	"fmt"
	"log"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/detector"
	"github.com/kozaktomas/facetrack/internal/recognition"
)

// Enroller turns face photos into stored embeddings.
type Enroller struct {
	students   database.StudentStore
	embeddings database.EmbeddingStore
	detector   FaceDetector
	index      *recognition.Index
	dim        int
}

// NewEnroller creates an enroller. index may be nil; when set, it is rebuilt
// after every write so live matching picks up new embeddings.
func NewEnroller(students database.StudentStore, embeddings database.EmbeddingStore, det FaceDetector, index *recognition.Index, dim int) *Enroller {
	return &Enroller{
		students:   students,
		embeddings: embeddings,
		detector:   det,
		index:      index,
		dim:        dim,
	}
}

// EnrollResult reports what happened to each submitted image.
type EnrollResult struct {
	Student  *database.Student `json:"student"`
	Accepted int               `json:"accepted"`
	Skipped  []SkippedImage    `json:"skipped,omitempty"`
}

// Enroll extracts one embedding per usable image and creates the student
// with all of them in a single transaction. Images with zero faces, several
// faces or undecodable bytes are skipped with a reason. When every image is
// skipped the enrollment is rejected and no student row persists.
func (e *Enroller) Enroll(ctx context.Context, studentNo, fullName string, images []NamedImage) (*EnrollResult, error) {
	result := &EnrollResult{}
	vectors := make([][]float32, 0, len(images))

	for _, img := range images {
		vector, skip, err := e.extract(ctx, img)
		if err != nil {
			return nil, err
		}
		if skip != "" {
			result.Skipped = append(result.Skipped, SkippedImage{Name: img.Name, Reason: skip})
			continue
		}
		vectors = append(vectors, vector)
	}

	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: %d images submitted", ErrEnrollmentRejected, len(images))
	}

	student, err := e.students.Enroll(ctx, studentNo, fullName, vectors)
	if err != nil {
		return nil, err
	}

	result.Student = student
	result.Accepted = len(vectors)
	e.refreshIndex(ctx)
	return result, nil
}

// extract runs detection on one image. A non-empty skip reason means the
// image cannot contribute an embedding; that is a per-image condition, not
// an error.
func (e *Enroller) extract(ctx context.Context, img NamedImage) ([]float32, string, error) {
	prepared, err := detector.PrepareFrame(img.Data)
	if err != nil {
		return nil, "not a decodable image", nil
	}

	detected, err := e.detector.Embed(ctx, prepared)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	faces := detector.Dedupe(detected.Faces)
	switch {
	case len(faces) == 0:
		return nil, "no face detected", nil
	case len(faces) > 1:
		return nil, fmt.Sprintf("%d faces detected, need exactly one", len(faces)), nil
	}

	embedding := faces[0].Embedding
	if len(embedding) != e.dim {
		return nil, "", fmt.Errorf("embedding has %d dimensions, expected %d: %w",
			len(embedding), e.dim, database.ErrDimensionMismatch)
	}
	return embedding, "", nil
}

// AddVector attaches one externally produced embedding to a student,
// rejecting vectors of the wrong dimensionality.
func (e *Enroller) AddVector(ctx context.Context, studentNo string, vector []float32) (int64, error) {
	if len(vector) != e.dim {
		return 0, fmt.Errorf("vector has %d dimensions, expected %d: %w",
			len(vector), e.dim, database.ErrDimensionMismatch)
	}

	id, err := e.students.AddEmbedding(ctx, studentNo, vector)
	if err != nil {
		return 0, err
	}

	e.refreshIndex(ctx)
	return id, nil
}

// Delete removes a student together with their embeddings and drops them
// from the in-memory index.
func (e *Enroller) Delete(ctx context.Context, studentNo string) (bool, error) {
	student, err := e.students.GetByNo(ctx, studentNo)
	if err != nil {
		return false, err
	}
	if student == nil {
		return false, nil
	}

	deleted, err := e.students.Delete(ctx, studentNo)
	if err != nil || !deleted {
		return deleted, err
	}

	if e.index != nil {
		e.index.RemoveStudent(student.ID)
	}
	return true, nil
}

// refreshIndex rebuilds the in-memory index after a write. The write has
// already committed; a failed rebuild only leaves the index stale.
func (e *Enroller) refreshIndex(ctx context.Context) {
	if e.index == nil {
		return
	}
	if err := e.index.Build(ctx, e.embeddings); err != nil {
		log.Printf("could not refresh embedding index: %v", err)
	}
}
