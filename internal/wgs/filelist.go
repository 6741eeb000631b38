package wgs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// FileListVersion is the only container.N version this package reads.
	FileListVersion = 4

	// FileNameWidth is the fixed width, in UTF-16 code units, of a file name
	// in a container file list.
	FileNameWidth = 64

	fileListPrefix = "container."
)

// ContainerFile is one logical file inside a container. Its payload lives
// in a blob file named BlobName(ID) next to the file list.
type ContainerFile struct {
	Name string
	ID   uuid.UUID
	Data []byte
}

// ContainerFileList is the "container.N" manifest of a container, where N is
// Seq.
type ContainerFileList struct {
	Seq   uint8
	Files []ContainerFile
}

// BlobResolver returns the payload of the blob with the given id, or a
// *MissingResource when there is none.
type BlobResolver func(id uuid.UUID) ([]byte, error)

// BlobWriter persists the payload of the blob with the given id.
type BlobWriter func(id uuid.UUID, data []byte) error

// FileListName returns "container.<seq>".
func FileListName(seq uint8) string {
	return fileListPrefix + strconv.Itoa(int(seq))
}

// ParseFileListName extracts the sequence number from a "container.N" name.
func ParseFileListName(name string) (uint8, error) {
	rest, ok := strings.CutPrefix(filepath.Base(name), fileListPrefix)
	if !ok {
		return 0, Violationf("invalid file list name: %s", name)
	}
	seq, err := strconv.ParseUint(rest, 10, 8)
	if err != nil {
		return 0, Violationf("invalid file list name: %s", name)
	}
	return uint8(seq), nil
}

// Size returns the total payload size of all files.
func (l *ContainerFileList) Size() uint64 {
	var n uint64
	for _, f := range l.Files {
		n += uint64(len(f.Data))
	}
	return n
}

// DecodeFileList parses a container file list. seq is supplied by the caller
// because it is not part of the payload. Every entry's blob is loaded through
// resolve; the first failure aborts the decode.
func DecodeFileList(data []byte, seq uint8, resolve BlobResolver) (*ContainerFileList, error) {
	r := NewReader(data)

	version, err := r.U32()
	if err != nil {
		return nil, err
	}
	if version != FileListVersion {
		return nil, Violationf("unsupported container file list version: %d != %d", version, FileListVersion)
	}
	count, err := r.U32()
	if err != nil {
		return nil, err
	}

	l := &ContainerFileList{Seq: seq}
	for i := uint32(0); i < count; i++ {
		name, err := r.FixedUTF16(FileNameWidth)
		if err != nil {
			return nil, err
		}
		// secondary (cloud) id, zero for local containers; not retained
		if _, err := r.GUID(); err != nil {
			return nil, err
		}
		id, err := r.GUID()
		if err != nil {
			return nil, err
		}
		blob, err := resolve(id)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", name, err)
		}
		l.Files = append(l.Files, ContainerFile{Name: name, ID: id, Data: blob})
	}
	return l, nil
}

// Encode returns the manifest bytes after handing every payload to write.
// If any blob write fails the manifest is not returned, so the caller never
// commits a manifest whose blobs are incomplete.
func (l *ContainerFileList) Encode(write BlobWriter) ([]byte, error) {
	var w Writer
	w.U32(FileListVersion)
	w.U32(uint32(len(l.Files)))
	// every name is validated before any blob reaches storage
	for _, f := range l.Files {
		if err := w.FixedUTF16(f.Name, FileNameWidth); err != nil {
			return nil, err
		}
		w.GUID(uuid.Nil)
		w.GUID(f.ID)
	}
	for _, f := range l.Files {
		if err := write(f.ID, f.Data); err != nil {
			return nil, fmt.Errorf("writing blob for %q: %w", f.Name, err)
		}
	}
	return w.Data(), nil
}

// DirResolver resolves blobs from files named BlobName(id) in dir.
func DirResolver(dir string) BlobResolver {
	return func(id uuid.UUID) ([]byte, error) {
		return readFile("blob", filepath.Join(dir, BlobName(id)))
	}
}

// DirWriter writes blobs to files named BlobName(id) in dir.
func DirWriter(dir string) BlobWriter {
	return func(id uuid.UUID, data []byte) error {
		return writeFileAtomic(filepath.Join(dir, BlobName(id)), data)
	}
}

// ReadFileList loads container.<seq> and its blobs from dir.
func ReadFileList(dir string, seq uint8) (*ContainerFileList, error) {
	data, err := readFile("container file list", filepath.Join(dir, FileListName(seq)))
	if err != nil {
		return nil, err
	}
	return DecodeFileList(data, seq, DirResolver(dir))
}

// WriteFileList writes the blobs of l into dir and then its manifest. The
// manifest is only written once every blob is on disk.
func WriteFileList(dir string, l *ContainerFileList) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating container directory: %w", err)
	}
	manifest, err := l.Encode(DirWriter(dir))
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, FileListName(l.Seq)), manifest); err != nil {
		return fmt.Errorf("writing container file list: %w", err)
	}
	return nil
}
