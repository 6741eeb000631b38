// Package savefile reads the BCPS chunked save format: a fixed header, a
// table of compressed chunk sizes, and a 16-byte aligned region of zlib
// compressed chunks starting at the declared header size.
package savefile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"sfimport/internal/wgs"
)

const (
	Magic    = "BCPS"
	ZipMagic = "ZIP "

	FormatVersion = 1
	HeaderTag     = 0x48

	// ChunkSize is the uncompressed size of every chunk but the last.
	ChunkSize = 0x40000

	// ChunkAlign is the alignment of each chunk in the payload region.
	ChunkAlign = 0x10

	sizeLimit    = 0x40000000
	fieldsOffset = 0x18
)

// Chunk is one compressed chunk. Size is the declared compressed length.
type Chunk struct {
	Size uint32
	Data []byte
}

// SaveFile is a parsed BCPS save.
type SaveFile struct {
	Name string

	// HeaderSize is the declared offset of the first chunk.
	HeaderSize uint64

	// RealHeaderSize is where the chunk size table actually ends.
	RealHeaderSize uint64

	UncompressedSize uint64
	Chunks           []Chunk

	// Opaque is carried through unchanged.
	Opaque uint32
}

// ChunkCount returns how many chunks hold uncompressed bytes.
func ChunkCount(uncompressed uint64) uint64 {
	return (uncompressed + ChunkSize - 1) / ChunkSize
}

// PaddedLen rounds n up to the next multiple of ChunkAlign.
func PaddedLen(n uint64) uint64 {
	return (n + ChunkAlign - 1) &^ (ChunkAlign - 1)
}

// Load reads and parses the save at path.
func Load(path string) (*SaveFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading save file: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes a whole BCPS file and verifies that the chunks decompress to
// the declared uncompressed size.
func Parse(name string, data []byte) (*SaveFile, error) {
	table := wgs.NewReader(data)

	magic, err := table.Bytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != Magic {
		return nil, wgs.Violationf("invalid magic: %q != %q", magic, Magic)
	}
	if err := expectU32(table, "format version", FormatVersion); err != nil {
		return nil, err
	}
	if err := expectU32(table, "header tag", HeaderTag); err != nil {
		return nil, err
	}

	if err := table.Seek(fieldsOffset); err != nil {
		return nil, err
	}
	s := &SaveFile{Name: name}
	if s.HeaderSize, err = table.U64(); err != nil {
		return nil, err
	}
	if s.UncompressedSize, err = table.U64(); err != nil {
		return nil, err
	}
	if err := expectU64(table, "size limit", sizeLimit); err != nil {
		return nil, err
	}
	if err := expectU64(table, "chunk size", ChunkSize); err != nil {
		return nil, err
	}
	if err := expectU64(table, "chunk alignment", ChunkAlign); err != nil {
		return nil, err
	}
	if s.Opaque, err = table.U32(); err != nil {
		return nil, err
	}
	magic, err = table.Bytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != ZipMagic {
		return nil, wgs.Violationf("invalid magic: %q != %q", magic, ZipMagic)
	}

	count := ChunkCount(s.UncompressedSize)
	if count > uint64(table.Remaining()/4) {
		return nil, wgs.Violationf("chunk table of %d entries overruns data", count)
	}
	if s.HeaderSize > uint64(len(data)) {
		return nil, wgs.Violationf("header size %d beyond end of data (%d bytes)", s.HeaderSize, len(data))
	}

	// The size table and the payload region are walked with independent
	// cursors.
	payload := wgs.NewReader(data)
	if err := payload.Seek(int(s.HeaderSize)); err != nil {
		return nil, err
	}
	s.Chunks = make([]Chunk, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := table.U32()
		if err != nil {
			return nil, err
		}
		chunk, err := payload.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		s.Chunks = append(s.Chunks, Chunk{Size: size, Data: chunk})

		// trailing padding of the last chunk may be cut off at end of file
		next := min(payload.Offset()+int(PaddedLen(uint64(size))-uint64(size)), len(data))
		if err := payload.Seek(next); err != nil {
			return nil, err
		}
	}
	s.RealHeaderSize = uint64(table.Offset())

	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// Verify decompresses every chunk and checks that the total matches
// UncompressedSize.
func (s *SaveFile) Verify() error {
	var total uint64
	for i := range s.Chunks {
		n, err := s.decompressedLen(i)
		if err != nil {
			return err
		}
		total += n
	}
	if total != s.UncompressedSize {
		return wgs.Violationf("unexpected uncompressed size: %d != %d", total, s.UncompressedSize)
	}
	return nil
}

func (s *SaveFile) decompressedLen(i int) (uint64, error) {
	zr, err := zlib.NewReader(bytes.NewReader(s.Chunks[i].Data))
	if err != nil {
		return 0, wgs.Violationf("chunk %d: %v", i, err)
	}
	defer zr.Close()

	n, err := io.Copy(io.Discard, zr)
	if err != nil {
		return 0, wgs.Violationf("chunk %d: %v", i, err)
	}
	return uint64(n), nil
}

// Decompress returns the uncompressed contents of all chunks in order.
func (s *SaveFile) Decompress() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(s.UncompressedSize))
	for i, c := range s.Chunks {
		zr, err := zlib.NewReader(bytes.NewReader(c.Data))
		if err != nil {
			return nil, wgs.Violationf("chunk %d: %v", i, err)
		}
		_, err = io.Copy(&buf, zr)
		zr.Close()
		if err != nil {
			return nil, wgs.Violationf("chunk %d: %v", i, err)
		}
	}
	return buf.Bytes(), nil
}

// CompressedSize returns the sum of the declared chunk sizes.
func (s *SaveFile) CompressedSize() uint64 {
	var n uint64
	for _, c := range s.Chunks {
		n += uint64(c.Size)
	}
	return n
}

// HeaderBytes encodes the header and chunk size table. Chunk payloads are not
// included; they follow at HeaderSize, each padded to ChunkAlign.
func (s *SaveFile) HeaderBytes() []byte {
	var w wgs.Writer
	w.Bytes([]byte(Magic))
	w.U32(FormatVersion)
	w.U32(HeaderTag)
	w.Zero(fieldsOffset - w.Len())
	w.U64(s.HeaderSize)
	w.U64(s.UncompressedSize)
	w.U64(sizeLimit)
	w.U64(ChunkSize)
	w.U64(ChunkAlign)
	w.U32(s.Opaque)
	w.Bytes([]byte(ZipMagic))
	for _, c := range s.Chunks {
		w.U32(c.Size)
	}
	return w.Data()
}

// Bytes reassembles the full file: header, zero fill up to HeaderSize, then
// each chunk padded to ChunkAlign.
func (s *SaveFile) Bytes() []byte {
	var w wgs.Writer
	w.Bytes(s.HeaderBytes())
	if pad := int(s.HeaderSize) - w.Len(); pad > 0 {
		w.Zero(pad)
	}
	for _, c := range s.Chunks {
		w.Bytes(c.Data)
		w.Zero(int(PaddedLen(uint64(len(c.Data))) - uint64(len(c.Data))))
	}
	return w.Data()
}

func expectU32(r *wgs.Reader, field string, want uint32) error {
	v, err := r.U32()
	if err != nil {
		return err
	}
	if v != want {
		return wgs.Violationf("unexpected %s: 0x%x != 0x%x", field, v, want)
	}
	return nil
}

func expectU64(r *wgs.Reader, field string, want uint64) error {
	v, err := r.U64()
	if err != nil {
		return err
	}
	if v != want {
		return wgs.Violationf("unexpected %s: 0x%x != 0x%x", field, v, want)
	}
	return nil
}
