package importer

import "sfimport/internal/history"

// Locator yields the container root of the game package.
type Locator interface {
	ContainerRoot() (string, error)
}

// Backuper duplicates the container root before it is modified and returns
// the location of the copy. An empty location means no backup was taken.
type Backuper interface {
	Backup(root string) (string, error)
}

// History journals completed imports.
type History interface {
	RecordImport(rec *history.Import) error
	ListImports(limit int) ([]*history.Import, error)
	FindImportsBySave(saveName string) ([]*history.Import, error)
}
