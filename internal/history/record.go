// Package history keeps a journal of completed imports in SQLite.
package history

import "time"

// Import is one journal row.
type Import struct {
	ID            int64
	ImportedAt    time.Time
	SaveName      string
	ContainerName string
	ContainerID   string
	Strategy      string
	Size          uint64
	BlobCount     int
	BackupPath    string
}
