package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"sfimport/internal/wgs"
)

// BlobSize is the size of every raw blob but the last.
const BlobSize = 16 << 20

const tocName = "toc"

// Raw splits the save into BlobSize pieces and appends a "toc" entry listing
// the JAMCRC-32 of each piece:
//
//	version:1;blobSize:16777216;BlobData0:<crc>;BlobData1:<crc>;
//
// The save's internal structure is not inspected.
type Raw struct {
	ids IDGenerator
}

func NewRaw(ids IDGenerator) *Raw {
	return &Raw{ids: ids}
}

func (*Raw) Name() string { return StrategyRaw }

func (r *Raw) Build(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening save: %w", err)
	}
	defer f.Close()

	return r.FromReader(f)
}

// FromReader consumes src until EOF.
func (r *Raw) FromReader(src io.Reader) (*Result, error) {
	var toc strings.Builder
	fmt.Fprintf(&toc, "version:1;blobSize:%d;", BlobSize)

	var files []wgs.ContainerFile
	var total uint64
	for i := 0; ; i++ {
		buf := make([]byte, BlobSize)
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			blob := buf[:n]
			if n < BlobSize {
				blob = bytes.Clone(blob)
			}
			files = append(files, wgs.ContainerFile{Name: blobName(i), ID: r.ids.New(), Data: blob})
			fmt.Fprintf(&toc, "%s:%d;", blobName(i), JAMCRC(blob))
			total += uint64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading blob %d: %w", i, err)
		}
	}

	files = append(files, wgs.ContainerFile{Name: tocName, ID: r.ids.New(), Data: []byte(toc.String())})
	return &Result{
		Files: &wgs.ContainerFileList{Seq: Seq, Files: files},
		Size:  total + uint64(toc.Len()),
	}, nil
}

// JAMCRC returns the CRC-32 of b without the final inversion.
func JAMCRC(b []byte) uint32 {
	return ^crc32.ChecksumIEEE(b)
}
