package roster

import (
	"context"
	"errors"
	"testing"
)

type fakeIdentityStore struct {
	existing map[string]bool
	created  []string
	failNo   string
}

func (f *fakeIdentityStore) ExistingNos(ctx context.Context, nos []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, no := range nos {
		if f.existing[no] {
			out[no] = true
		}
	}
	return out, nil
}

func (f *fakeIdentityStore) CreateIdentity(ctx context.Context, studentNo, fullName string) (bool, error) {
	if studentNo == f.failNo {
		return false, errors.New("connection lost")
	}
	if f.existing[studentNo] {
		return false, nil
	}
	f.existing[studentNo] = true
	f.created = append(f.created, studentNo)
	return true, nil
}

func TestImport_CreatesUnknownStudents(t *testing.T) {
	store := &fakeIdentityStore{existing: map[string]bool{"S100": true}}
	importer := NewImporter(store)

	records := []Record{
		{StudentNo: "S100", FullName: "Already There"},
		{StudentNo: "S101", FullName: "Nová Studentka"},
		{StudentNo: "S102", FullName: "New Student"},
	}

	var calls int
	result, err := importer.Import(context.Background(), records, func(done, total int) {
		calls++
		if total != 3 {
			t.Errorf("expected total 3, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if result.Created != 2 {
		t.Errorf("expected 2 created, got %d", result.Created)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", result.Skipped)
	}
	if calls != 3 {
		t.Errorf("expected 3 progress calls, got %d", calls)
	}
	if len(store.created) != 2 || store.created[0] != "S101" || store.created[1] != "S102" {
		t.Errorf("unexpected created set: %v", store.created)
	}
}

func TestImport_CountsRaceLosersAsSkipped(t *testing.T) {
	store := &fakeIdentityStore{existing: map[string]bool{}}
	importer := NewImporter(store)

	// The same number twice in one run: the second insert loses.
	records := []Record{
		{StudentNo: "S101", FullName: "Nová Studentka"},
		{StudentNo: "S101", FullName: "Nová Studentka"},
	}

	result, err := importer.Import(context.Background(), records, nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Created != 1 || result.Skipped != 1 {
		t.Errorf("expected 1 created and 1 skipped, got %+v", result)
	}
}

func TestImport_PropagatesStoreErrors(t *testing.T) {
	store := &fakeIdentityStore{existing: map[string]bool{}, failNo: "S102"}
	importer := NewImporter(store)

	records := []Record{
		{StudentNo: "S101", FullName: "First"},
		{StudentNo: "S102", FullName: "Second"},
	}

	_, err := importer.Import(context.Background(), records, nil)
	if err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestImport_EmptyRoster(t *testing.T) {
	store := &fakeIdentityStore{existing: map[string]bool{}}
	importer := NewImporter(store)

	result, err := importer.Import(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Created != 0 || result.Skipped != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
