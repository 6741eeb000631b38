package ingest

import (
	"fmt"

	"sfimport/internal/savefile"
	"sfimport/internal/wgs"
)

// Chunked stores the BCPS header and size table as BlobData0 followed by one
// blob per compressed chunk, without padding. The save is fully verified
// before anything is produced.
type Chunked struct {
	ids IDGenerator
}

func NewChunked(ids IDGenerator) *Chunked {
	return &Chunked{ids: ids}
}

func (*Chunked) Name() string { return StrategyChunked }

func (c *Chunked) Build(path string) (*Result, error) {
	s, err := savefile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading save: %w", err)
	}
	return c.FromSaveFile(s), nil
}

// FromSaveFile builds the file list for an already parsed save.
func (c *Chunked) FromSaveFile(s *savefile.SaveFile) *Result {
	files := make([]wgs.ContainerFile, 0, len(s.Chunks)+1)
	files = append(files, wgs.ContainerFile{
		Name: blobName(0),
		ID:   c.ids.New(),
		Data: s.HeaderBytes(),
	})
	for i, chunk := range s.Chunks {
		files = append(files, wgs.ContainerFile{
			Name: blobName(i + 1),
			ID:   c.ids.New(),
			Data: chunk.Data,
		})
	}

	return &Result{
		Files: &wgs.ContainerFileList{Seq: Seq, Files: files},
		Size:  s.RealHeaderSize + s.CompressedSize(),
	}
}
