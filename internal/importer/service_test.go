package importer_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sfimport/internal/history"
	"sfimport/internal/importer"
	"sfimport/internal/ingest"
	"sfimport/internal/savefile"
	"sfimport/internal/testutil"
	"sfimport/internal/wgs"
)

type staticLocator struct {
	root string
	err  error
}

func (l staticLocator) ContainerRoot() (string, error) { return l.root, l.err }

// recordingBackuper remembers the state of the container root at backup time.
type recordingBackuper struct {
	calls       int
	indexAtCall []byte
	entries     int
	err         error
}

func (b *recordingBackuper) Backup(root string) (string, error) {
	b.calls++
	b.indexAtCall, _ = os.ReadFile(filepath.Join(root, wgs.IndexFileName))
	ents, _ := os.ReadDir(root)
	b.entries = len(ents)
	if b.err != nil {
		return "", b.err
	}
	return root + ".backup.test", nil
}

type fixture struct {
	root    string
	svc     *importer.Service
	backup  *recordingBackuper
	history *history.SQLiteStore
	clock   *testutil.StubClock
	ids     *testutil.StubIDGenerator
}

func newFixture(t *testing.T, idx *wgs.ContainerIndex) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "0009000001234567_0123456789ABCDEF0123456789ABCDEF")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if idx != nil {
		if err := wgs.WriteIndexFile(root, idx); err != nil {
			t.Fatalf("WriteIndexFile() error = %v", err)
		}
	}

	store, err := history.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		root:    root,
		backup:  &recordingBackuper{},
		history: store,
		clock:   testutil.FixedClock(),
		ids:     testutil.NewStubIDGenerator(),
	}
	f.svc = importer.NewService(staticLocator{root: root}, f.backup, store, importer.NewNopLogger(), f.clock, f.ids)
	return f
}

func emptyIndex() *wgs.ContainerIndex {
	return &wgs.ContainerIndex{
		PackageName: "BethesdaSoftworks.ProjectGold_3275kfvn8vcwc",
		Modified:    wgs.Timestamp(133384032000000000),
		Flag2:       0x10000000,
		IndexID:     "9F3D0FE4-9BC3-4D5F-94B6-E4E3C8D1AB55",
	}
}

func writeSave(t *testing.T, name string, data []byte, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func readIndex(t *testing.T, root string) *wgs.ContainerIndex {
	t.Helper()
	idx, err := wgs.ReadIndexFile(root)
	if err != nil {
		t.Fatalf("ReadIndexFile() error = %v", err)
	}
	return idx
}

func TestService_Import_Chunked(t *testing.T) {
	f := newFixture(t, emptyIndex())

	chunks := [][]byte{testutil.Patterned(savefile.ChunkSize, 1), testutil.Patterned(10, 2)}
	data, compressed := testutil.BuildSaveFile(t, chunks, testutil.SaveFileOptions{})
	mtime := time.Date(2023, 9, 6, 20, 15, 0, 0, time.UTC)
	savePath := writeSave(t, "Quick Save.sfs", data, mtime)

	res, err := f.svc.Import(savePath, ingest.NewChunked(f.ids))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if res.Files != 3 {
		t.Errorf("Files = %d, want 3", res.Files)
	}
	wantSize := uint64(72 + 4*2 + len(compressed[0]) + len(compressed[1]))
	if res.Container.Size != wantSize {
		t.Errorf("Size = %d, want %d", res.Container.Size, wantSize)
	}

	idx := readIndex(t, f.root)
	if len(idx.Containers) != 1 {
		t.Fatalf("len(Containers) = %d, want 1", len(idx.Containers))
	}
	c := idx.Containers[0]
	if c.Name != "Saves/Quick Save.sfs" {
		t.Errorf("Name = %q, want Saves/Quick Save.sfs", c.Name)
	}
	if c.CloudID != "" || c.Flag != importer.NewContainerFlag || c.Seq != 1 {
		t.Errorf("container = %+v, want empty cloud id, flag 1, seq 1", c)
	}
	if c.Modified != wgs.TimestampFromTime(mtime) {
		t.Errorf("Modified = %v, want %v", c.Modified, wgs.TimestampFromTime(mtime))
	}
	if idx.Modified != wgs.TimestampFromTime(f.clock.Now()) {
		t.Errorf("index Modified = %v, want %v", idx.Modified, wgs.TimestampFromTime(f.clock.Now()))
	}
	if *c != *res.Container {
		t.Errorf("stored container = %+v, want %+v", c, res.Container)
	}

	files, err := wgs.ReadFileList(filepath.Join(f.root, c.PayloadDir()), c.Seq)
	if err != nil {
		t.Fatalf("ReadFileList() error = %v", err)
	}
	if files.Size() != c.Size {
		t.Errorf("file list size = %d, want container size %d", files.Size(), c.Size)
	}
	if !bytes.Equal(files.Files[0].Data, data[:80]) {
		t.Error("header blob does not match the save header")
	}
}

func TestService_Import_Raw(t *testing.T) {
	existing := emptyIndex()
	existing.Containers = []*wgs.Container{{
		Name:    "Saves/Autosave0.sfs",
		CloudID: "0x0900000012345678",
		Seq:     3,
		Flag:    5,
		ID:      testutil.NewStubIDGenerator().New(),
		Size:    42,
	}}
	f := newFixture(t, existing)
	before, _ := os.ReadFile(filepath.Join(f.root, wgs.IndexFileName))

	savePath := writeSave(t, "Manual.sfs", []byte("any bytes at all"), time.Now())
	res, err := f.svc.Import(savePath, ingest.NewRaw(f.ids))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if f.backup.calls != 1 {
		t.Fatalf("backup calls = %d, want 1", f.backup.calls)
	}
	if !bytes.Equal(f.backup.indexAtCall, before) || f.backup.entries != 1 {
		t.Error("container root was modified before the backup was taken")
	}
	if res.BackupPath != f.root+".backup.test" {
		t.Errorf("BackupPath = %q", res.BackupPath)
	}

	idx := readIndex(t, f.root)
	if len(idx.Containers) != 2 {
		t.Fatalf("len(Containers) = %d, want 2", len(idx.Containers))
	}
	if *idx.Containers[0] != *existing.Containers[0] {
		t.Errorf("existing container changed: %+v", idx.Containers[0])
	}
	if idx.PackageName != existing.PackageName || idx.IndexID != existing.IndexID {
		t.Error("index header fields changed")
	}

	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != wgs.IndexFileName && e.Name() != res.Container.PayloadDir() {
			t.Errorf("unexpected entry left in container root: %s", e.Name())
		}
	}

	imports, err := f.svc.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(imports) != 1 {
		t.Fatalf("len(GetHistory()) = %d, want 1", len(imports))
	}
	rec := imports[0]
	if rec.SaveName != "Manual.sfs" || rec.Strategy != ingest.StrategyRaw || rec.ContainerID != res.Container.ID.String() {
		t.Errorf("history record = %+v", rec)
	}
	if rec.BlobCount != 2 || rec.Size != res.Container.Size {
		t.Errorf("history record = %+v, want 2 blobs and size %d", rec, res.Container.Size)
	}
}

func TestService_Import_Refusals(t *testing.T) {
	t.Run("duplicate save", func(t *testing.T) {
		idx := emptyIndex()
		idx.Containers = []*wgs.Container{{Name: "Saves/Dup.sfs", Seq: 1, Flag: 1}}
		f := newFixture(t, idx)

		savePath := writeSave(t, "Dup.sfs", []byte("x"), time.Now())
		_, err := f.svc.Import(savePath, ingest.NewRaw(f.ids))
		if !errors.Is(err, importer.ErrAlreadyImported) {
			t.Errorf("Import() error = %v, want ErrAlreadyImported", err)
		}
		if f.backup.calls != 0 {
			t.Error("backup taken for refused import")
		}
	})

	t.Run("missing save", func(t *testing.T) {
		f := newFixture(t, emptyIndex())

		_, err := f.svc.Import(filepath.Join(t.TempDir(), "nope.sfs"), ingest.NewRaw(f.ids))
		if !errors.Is(err, wgs.ErrMissingResource) {
			t.Errorf("Import() error = %v, want ErrMissingResource", err)
		}
	})

	t.Run("invalid save", func(t *testing.T) {
		f := newFixture(t, emptyIndex())
		before, _ := os.ReadFile(filepath.Join(f.root, wgs.IndexFileName))

		savePath := writeSave(t, "Bad.sfs", []byte("BCPS but not really"), time.Now())
		_, err := f.svc.Import(savePath, ingest.NewChunked(f.ids))
		if !errors.Is(err, wgs.ErrFormatViolation) {
			t.Errorf("Import() error = %v, want ErrFormatViolation", err)
		}
		if f.backup.calls != 0 {
			t.Error("backup taken for invalid save")
		}
		after, _ := os.ReadFile(filepath.Join(f.root, wgs.IndexFileName))
		if !bytes.Equal(before, after) {
			t.Error("index modified after failed import")
		}
	})

	t.Run("save name too long for the file list", func(t *testing.T) {
		f := newFixture(t, emptyIndex())
		savePath := writeSave(t, "Long.sfs", []byte("x"), time.Now())

		_, err := f.svc.Import(savePath, longNameStrategy{})
		if !errors.Is(err, wgs.ErrFormatViolation) {
			t.Errorf("Import() error = %v, want ErrFormatViolation", err)
		}
		if f.backup.calls != 0 {
			t.Error("backup taken before validation finished")
		}
	})

	t.Run("backup failure", func(t *testing.T) {
		f := newFixture(t, emptyIndex())
		f.backup.err = errors.New("disk full")

		savePath := writeSave(t, "A.sfs", []byte("x"), time.Now())
		if _, err := f.svc.Import(savePath, ingest.NewRaw(f.ids)); err == nil {
			t.Fatal("Import() expected error when backup fails")
		}
		if idx := readIndex(t, f.root); len(idx.Containers) != 0 {
			t.Error("index modified after failed backup")
		}
		if entries, _ := os.ReadDir(f.root); len(entries) != 1 {
			t.Errorf("container root has %d entries, want only the index", len(entries))
		}
	})

	t.Run("missing index", func(t *testing.T) {
		f := newFixture(t, nil)

		savePath := writeSave(t, "A.sfs", []byte("x"), time.Now())
		_, err := f.svc.Import(savePath, ingest.NewRaw(f.ids))
		if !errors.Is(err, wgs.ErrMissingResource) {
			t.Errorf("Import() error = %v, want ErrMissingResource", err)
		}
	})

	t.Run("corrupt index", func(t *testing.T) {
		f := newFixture(t, nil)
		if err := os.WriteFile(filepath.Join(f.root, wgs.IndexFileName), []byte{13, 0, 0, 0}, 0644); err != nil {
			t.Fatal(err)
		}

		savePath := writeSave(t, "A.sfs", []byte("x"), time.Now())
		_, err := f.svc.Import(savePath, ingest.NewRaw(f.ids))
		if !errors.Is(err, wgs.ErrFormatViolation) {
			t.Errorf("Import() error = %v, want ErrFormatViolation", err)
		}
	})

	t.Run("locator failure", func(t *testing.T) {
		boom := errors.New("no package")
		svc := importer.NewService(staticLocator{err: boom}, &recordingBackuper{}, nil,
			importer.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

		if _, err := svc.Import("whatever.sfs", ingest.NewRaw(testutil.NewStubIDGenerator())); !errors.Is(err, boom) {
			t.Errorf("Import() error = %v, want locator error", err)
		}
	})
}

// longNameStrategy yields a file list whose entry name does not fit the
// fixed-width name field.
type longNameStrategy struct{}

func (longNameStrategy) Name() string { return "long" }

func (longNameStrategy) Build(string) (*ingest.Result, error) {
	name := string(bytes.Repeat([]byte("n"), wgs.FileNameWidth+1))
	return &ingest.Result{
		Files: &wgs.ContainerFileList{Seq: 1, Files: []wgs.ContainerFile{{Name: name, Data: []byte("x")}}},
		Size:  1,
	}, nil
}

func TestService_OpenPackage(t *testing.T) {
	idx := emptyIndex()
	idx.Containers = []*wgs.Container{{Name: "Saves/A.sfs", Seq: 1, Flag: 1, Size: 7}}
	f := newFixture(t, idx)

	pkg, err := f.svc.OpenPackage()
	if err != nil {
		t.Fatalf("OpenPackage() error = %v", err)
	}
	if pkg.Root != f.root {
		t.Errorf("Root = %q, want %q", pkg.Root, f.root)
	}
	if len(pkg.Index.Containers) != 1 || pkg.Index.Containers[0].Size != 7 {
		t.Errorf("Index = %+v", pkg.Index)
	}
}

func TestService_InspectSave(t *testing.T) {
	f := newFixture(t, emptyIndex())
	data, _ := testutil.BuildSaveFile(t, [][]byte{testutil.Patterned(100, 0)}, testutil.SaveFileOptions{Opaque: 7})
	path := writeSave(t, "S.sfs", data, time.Now())

	sf, err := f.svc.InspectSave(path)
	if err != nil {
		t.Fatalf("InspectSave() error = %v", err)
	}
	if sf.UncompressedSize != 100 || sf.Opaque != 7 || len(sf.Chunks) != 1 {
		t.Errorf("InspectSave() = %+v", sf)
	}
}

func TestService_ImportInto(t *testing.T) {
	f := newFixture(t, emptyIndex())
	pkg, err := f.svc.OpenPackage()
	if err != nil {
		t.Fatalf("OpenPackage() error = %v", err)
	}
	before := pkg.Index

	t.Run("failure leaves the package untouched", func(t *testing.T) {
		if _, err := f.svc.ImportInto(pkg, writeSave(t, "L.sfs", []byte("x"), time.Now()), longNameStrategy{}); err == nil {
			t.Fatal("ImportInto() expected error")
		}
		if pkg.Index != before || len(pkg.Index.Containers) != 0 {
			t.Errorf("Index = %+v, want unchanged", pkg.Index)
		}
	})

	t.Run("success updates the opened index", func(t *testing.T) {
		res, err := f.svc.ImportInto(pkg, writeSave(t, "A.sfs", []byte("abc"), time.Now()), ingest.NewRaw(f.ids))
		if err != nil {
			t.Fatalf("ImportInto() error = %v", err)
		}
		if len(pkg.Index.Containers) != 1 || pkg.Index.Containers[0] != res.Container {
			t.Errorf("Index.Containers = %+v, want the imported container", pkg.Index.Containers)
		}
		if len(before.Containers) != 0 {
			t.Error("ImportInto() mutated the previous index")
		}
		if len(readIndex(t, f.root).Containers) != 1 {
			t.Error("index file not updated")
		}

		// the refreshed package still guards against duplicates
		_, err = f.svc.ImportInto(pkg, writeSave(t, "A.sfs", []byte("abc"), time.Now()), ingest.NewRaw(f.ids))
		if !errors.Is(err, importer.ErrAlreadyImported) {
			t.Errorf("second ImportInto() error = %v, want ErrAlreadyImported", err)
		}
	})
}

func TestService_FindImports(t *testing.T) {
	f := newFixture(t, emptyIndex())
	for _, name := range []string{"A.sfs", "B.sfs"} {
		if _, err := f.svc.Import(writeSave(t, name, []byte(name), time.Now()), ingest.NewRaw(f.ids)); err != nil {
			t.Fatalf("Import(%s) error = %v", name, err)
		}
	}

	got, err := f.svc.FindImports(filepath.Join("any", "dir", "B.sfs"))
	if err != nil {
		t.Fatalf("FindImports() error = %v", err)
	}
	if len(got) != 1 || got[0].ContainerName != "Saves/B.sfs" {
		t.Errorf("FindImports() = %+v, want the B.sfs import", got)
	}

	none, err := f.svc.FindImports("C.sfs")
	if err != nil || len(none) != 0 {
		t.Errorf("FindImports(C.sfs) = %v, %v, want nothing", none, err)
	}
}

func TestService_DecompressSave(t *testing.T) {
	f := newFixture(t, emptyIndex())
	chunks := [][]byte{testutil.Patterned(savefile.ChunkSize, 3), testutil.Patterned(500, 4)}
	data, _ := testutil.BuildSaveFile(t, chunks, testutil.SaveFileOptions{})
	path := writeSave(t, "S.sfs", data, time.Now())
	out := filepath.Join(t.TempDir(), "S.bin")

	sf, err := f.svc.DecompressSave(path, out)
	if err != nil {
		t.Fatalf("DecompressSave() error = %v", err)
	}
	if len(sf.Chunks) != 2 {
		t.Errorf("len(Chunks) = %d, want 2", len(sf.Chunks))
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, append(bytes.Clone(chunks[0]), chunks[1]...)) {
		t.Error("decompressed contents do not match the original chunks")
	}

	if _, err := f.svc.DecompressSave(writeSave(t, "bad.sfs", []byte("nope"), time.Now()), out); !errors.Is(err, wgs.ErrFormatViolation) {
		t.Errorf("DecompressSave(invalid) error = %v, want ErrFormatViolation", err)
	}
}

func TestContainerName(t *testing.T) {
	got := importer.ContainerName(filepath.Join("some", "dir", "Quick Save.sfs"))
	if got != "Saves/Quick Save.sfs" {
		t.Errorf("ContainerName() = %q", got)
	}
}
