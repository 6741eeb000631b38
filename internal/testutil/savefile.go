package testutil

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// SaveFileOptions adjusts the output of BuildSaveFile.
type SaveFileOptions struct {
	Opaque uint32

	// HeaderSize overrides the declared payload offset. Zero places the
	// payload right after the chunk table, aligned to 16 bytes.
	HeaderSize uint64

	// UncompressedSize overrides the declared uncompressed size, which
	// otherwise is the sum of the chunk lengths.
	UncompressedSize *uint64

	// Trailer is appended after the last chunk's padding.
	Trailer []byte
}

// Compress returns the zlib compression of data.
func Compress(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// BuildSaveFile lays out a BCPS save whose chunks are the zlib compressions
// of chunks. It returns the file and the compressed chunks in order.
func BuildSaveFile(t testing.TB, chunks [][]byte, opts SaveFileOptions) ([]byte, [][]byte) {
	t.Helper()

	var uncompressed uint64
	compressed := make([][]byte, len(chunks))
	for i, c := range chunks {
		uncompressed += uint64(len(c))
		compressed[i] = Compress(t, c)
	}
	if opts.UncompressedSize != nil {
		uncompressed = *opts.UncompressedSize
	}

	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.WriteString("BCPS")
	buf.Write(le.AppendUint32(nil, 1))
	buf.Write(le.AppendUint32(nil, 0x48))
	buf.Write(make([]byte, 12))

	tableEnd := uint64(72 + 4*len(chunks))
	headerSize := opts.HeaderSize
	if headerSize == 0 {
		headerSize = align16(tableEnd)
	}
	buf.Write(le.AppendUint64(nil, headerSize))
	buf.Write(le.AppendUint64(nil, uncompressed))
	buf.Write(le.AppendUint64(nil, 0x40000000))
	buf.Write(le.AppendUint64(nil, 0x40000))
	buf.Write(le.AppendUint64(nil, 0x10))
	buf.Write(le.AppendUint32(nil, opts.Opaque))
	buf.WriteString("ZIP ")
	for _, c := range compressed {
		buf.Write(le.AppendUint32(nil, uint32(len(c))))
	}

	if uint64(buf.Len()) < headerSize {
		buf.Write(make([]byte, headerSize-uint64(buf.Len())))
	}
	for _, c := range compressed {
		buf.Write(c)
		buf.Write(make([]byte, align16(uint64(len(c)))-uint64(len(c))))
	}
	buf.Write(opts.Trailer)
	return buf.Bytes(), compressed
}

// Patterned returns n bytes of a repeating, mildly compressible pattern.
func Patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func align16(n uint64) uint64 {
	return (n + 15) &^ 15
}
