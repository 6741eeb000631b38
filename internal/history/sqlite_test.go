package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testImport(save, containerID string) *Import {
	return &Import{
		ImportedAt:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		SaveName:      save,
		ContainerName: "Saves/" + save,
		ContainerID:   containerID,
		Strategy:      "raw",
		Size:          1 << 33,
		BlobCount:     3,
		BackupPath:    "/wgs/root.backup.20240115103000",
	}
}

func TestSQLiteStore_RecordImport(t *testing.T) {
	t.Run("assigns increasing ids", func(t *testing.T) {
		s := newTestStore(t)

		a := testImport("Quick Save.sfs", "A")
		b := testImport("Autosave0.sfs", "B")
		if err := s.RecordImport(a); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
		if err := s.RecordImport(b); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
		if a.ID == 0 || b.ID <= a.ID {
			t.Errorf("ids = %d, %d, want positive and increasing", a.ID, b.ID)
		}
	})

	t.Run("rejects duplicate container id", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.RecordImport(testImport("a.sfs", "SAME")); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
		if err := s.RecordImport(testImport("b.sfs", "SAME")); err == nil {
			t.Error("RecordImport() expected error for duplicate container id")
		}
	})

	t.Run("fills zero import time", func(t *testing.T) {
		s := newTestStore(t)

		rec := testImport("a.sfs", "A")
		rec.ImportedAt = time.Time{}
		if err := s.RecordImport(rec); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
		if rec.ImportedAt.IsZero() {
			t.Error("ImportedAt was not set")
		}
	})
}

func TestSQLiteStore_ListImports(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"A", "B", "C"} {
		if err := s.RecordImport(testImport(id+".sfs", id)); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
	}

	got, err := s.ListImports(2)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ListImports(2)) = %d, want 2", len(got))
	}
	if got[0].ContainerID != "C" || got[1].ContainerID != "B" {
		t.Errorf("ListImports() order = %s, %s, want C, B", got[0].ContainerID, got[1].ContainerID)
	}

	want := testImport("C.sfs", "C")
	want.ID = got[0].ID
	rec := got[0]
	if !rec.ImportedAt.Equal(want.ImportedAt) {
		t.Errorf("ImportedAt = %v, want %v", rec.ImportedAt, want.ImportedAt)
	}
	rec.ImportedAt = want.ImportedAt
	if *rec != *want {
		t.Errorf("ListImports()[0] = %+v, want %+v", rec, want)
	}
}

func TestSQLiteStore_FindImportsBySave(t *testing.T) {
	s := newTestStore(t)

	for _, rec := range []*Import{testImport("a.sfs", "1"), testImport("b.sfs", "2"), testImport("a.sfs", "3")} {
		if err := s.RecordImport(rec); err != nil {
			t.Fatalf("RecordImport() error = %v", err)
		}
	}

	got, err := s.FindImportsBySave("a.sfs")
	if err != nil {
		t.Fatalf("FindImportsBySave() error = %v", err)
	}
	if len(got) != 2 || got[0].ContainerID != "1" || got[1].ContainerID != "3" {
		t.Errorf("FindImportsBySave() = %+v, want containers 1 and 3", got)
	}

	none, err := s.FindImportsBySave("missing.sfs")
	if err != nil {
		t.Fatalf("FindImportsBySave() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("FindImportsBySave() = %d rows, want 0", len(none))
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DatabaseFileName)

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.RecordImport(testImport("a.sfs", "A")); err != nil {
		t.Fatalf("RecordImport() error = %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if err := s.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	got, err := s.ListImports(10)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(ListImports()) = %d, want 1", len(got))
	}
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordImport(testImport("a.sfs", "A")); err != nil {
		t.Fatalf("RecordImport() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := s.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	c, err := NewSQLiteStore(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer c.Close()

	got, err := c.ListImports(10)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(got) != 1 || got[0].ContainerID != "A" {
		t.Errorf("backup contents = %+v, want single import A", got)
	}
}
