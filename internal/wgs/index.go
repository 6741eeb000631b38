package wgs

import (
	"fmt"
	"path/filepath"
)

const (
	// IndexVersion is the only containers.index version this package reads.
	IndexVersion = 14

	// IndexFileName is the index file inside a container root.
	IndexFileName = "containers.index"
)

// ContainerIndex is the top-level record of a sync package. The on-disk
// container count is not stored: it is always len(Containers).
type ContainerIndex struct {
	Flag1       uint32
	PackageName string
	Modified    Timestamp
	Flag2       uint32
	IndexID     string
	Reserved    uint64
	Containers  []*Container
}

// DecodeIndex parses a whole containers.index file. Any container record
// failure is returned unchanged.
func DecodeIndex(data []byte) (*ContainerIndex, error) {
	r := NewReader(data)

	version, err := r.U32()
	if err != nil {
		return nil, err
	}
	if version != IndexVersion {
		return nil, Violationf("unsupported container index version: %d", version)
	}
	count, err := r.U32()
	if err != nil {
		return nil, err
	}

	var idx ContainerIndex
	if idx.Flag1, err = r.U32(); err != nil {
		return nil, err
	}
	if idx.PackageName, err = r.UTF16(); err != nil {
		return nil, err
	}
	if idx.Modified, err = r.Timestamp(); err != nil {
		return nil, err
	}
	if idx.Flag2, err = r.U32(); err != nil {
		return nil, err
	}
	if idx.IndexID, err = r.UTF16(); err != nil {
		return nil, err
	}
	if idx.Reserved, err = r.U64(); err != nil {
		return nil, err
	}

	// count comes from the file; don't preallocate from it.
	for i := uint32(0); i < count; i++ {
		c, err := DecodeContainer(r)
		if err != nil {
			return nil, err
		}
		idx.Containers = append(idx.Containers, c)
	}
	return &idx, nil
}

// MarshalBinary encodes the full index with the count derived from the live
// container slice.
func (idx *ContainerIndex) MarshalBinary() ([]byte, error) {
	var w Writer
	w.U32(IndexVersion)
	w.U32(uint32(len(idx.Containers)))
	w.U32(idx.Flag1)
	if err := w.UTF16(idx.PackageName); err != nil {
		return nil, err
	}
	w.Timestamp(idx.Modified)
	w.U32(idx.Flag2)
	if err := w.UTF16(idx.IndexID); err != nil {
		return nil, err
	}
	w.U64(idx.Reserved)
	for _, c := range idx.Containers {
		if err := c.EncodeTo(&w); err != nil {
			return nil, fmt.Errorf("encoding container %q: %w", c.Name, err)
		}
	}
	return w.Data(), nil
}

// Find returns the container with the given name, or nil.
func (idx *ContainerIndex) Find(name string) *Container {
	for _, c := range idx.Containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Append adds c after the existing containers and stamps the index.
func (idx *ContainerIndex) Append(c *Container, now Timestamp) {
	idx.Containers = append(idx.Containers, c)
	idx.Modified = now
}

// ReadIndexFile loads containers.index from a container root.
func ReadIndexFile(root string) (*ContainerIndex, error) {
	data, err := readFile("container index", filepath.Join(root, IndexFileName))
	if err != nil {
		return nil, err
	}
	return DecodeIndex(data)
}

// WriteIndexFile replaces containers.index in root with the encoding of idx.
// The file is always rewritten whole.
func WriteIndexFile(root string, idx *ContainerIndex) error {
	data, err := idx.MarshalBinary()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(root, IndexFileName), data); err != nil {
		return fmt.Errorf("writing container index: %w", err)
	}
	return nil
}
