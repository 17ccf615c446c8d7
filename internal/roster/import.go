package roster

import (
	"context"
	"fmt"
)

// IdentityStore is the subset of the student store the importer writes to.
type IdentityStore interface {
	// ExistingNos reports which of the given student numbers already exist.
	ExistingNos(ctx context.Context, nos []string) (map[string]bool, error)
	// CreateIdentity inserts a student row without embeddings, returning
	// false when the number is already taken.
	CreateIdentity(ctx context.Context, studentNo, fullName string) (bool, error)
}

// ImportResult summarizes one roster import run.
type ImportResult struct {
	Created int
	Skipped int
}

// Importer copies roster identities into the attendance database. Students
// the roster knows but the database does not get identity-only rows;
// embeddings arrive later through enrollment, which completes the row in
// place. Existing students are never modified.
type Importer struct {
	store IdentityStore
}

func NewImporter(store IdentityStore) *Importer {
	return &Importer{store: store}
}

// Import inserts every unknown roster record. The optional progress callback
// fires after each record.
func (im *Importer) Import(ctx context.Context, records []Record, progress func(done, total int)) (*ImportResult, error) {
	nos := make([]string, len(records))
	for i, rec := range records {
		nos[i] = rec.StudentNo
	}

	existing, err := im.store.ExistingNos(ctx, nos)
	if err != nil {
		return nil, fmt.Errorf("check existing students: %w", err)
	}

	result := &ImportResult{}
	for i, rec := range records {
		if existing[rec.StudentNo] {
			result.Skipped++
		} else {
			created, err := im.store.CreateIdentity(ctx, rec.StudentNo, rec.FullName)
			if err != nil {
				return nil, fmt.Errorf("import %s: %w", rec.StudentNo, err)
			}
			if created {
				result.Created++
			} else {
				// Lost a race against a concurrent enrollment.
				result.Skipped++
			}
		}
		if progress != nil {
			progress(i+1, len(records))
		}
	}

	return result, nil
}
