// Package ingest turns a save file into the ContainerFileList stored for a new
// container. Two interchangeable strategies exist: Raw splits the bytes into
// fixed-size blobs with a checksum table, Chunked stores the BCPS header and
// each compressed chunk as separate blobs.
package ingest

import (
	"fmt"

	"github.com/google/uuid"

	"sfimport/internal/wgs"
)

// Seq is the sequence number of every file list produced here.
const Seq = 1

const (
	StrategyRaw     = "raw"
	StrategyChunked = "chunked"
)

// IDGenerator hands out blob identifiers.
type IDGenerator interface {
	New() uuid.UUID
}

// Result is the outcome of ingesting one save.
type Result struct {
	Files *wgs.ContainerFileList

	// Size is the value recorded on the container entry.
	Size uint64
}

// Strategy produces the file list for the save at path.
type Strategy interface {
	Name() string
	Build(path string) (*Result, error)
}

// New returns the strategy registered under name.
func New(name string, ids IDGenerator) (Strategy, error) {
	switch name {
	case StrategyRaw, "":
		return NewRaw(ids), nil
	case StrategyChunked:
		return NewChunked(ids), nil
	default:
		return nil, fmt.Errorf("unknown ingest strategy: %q", name)
	}
}

func blobName(i int) string {
	return fmt.Sprintf("BlobData%d", i)
}
