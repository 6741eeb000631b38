package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"sfimport/internal/history"
	"sfimport/internal/ingest"
	"sfimport/internal/savefile"
	"sfimport/internal/wgs"
)

// NewContainerFlag is the flag written on imported containers. They carry no
// cloud id, so FlagCloudID stays clear.
const NewContainerFlag = 1

// SavePrefix is prepended to the save's base name to form the container name.
const SavePrefix = "Saves/"

// ErrAlreadyImported is returned when the index already holds a container
// for the save.
var ErrAlreadyImported = errors.New("save file already exists")

// Service is the orchestration layer that coordinates the locator, the
// codecs, the backup and the history journal for the CLI.
type Service struct {
	locator  Locator
	backuper Backuper
	history  History
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a new Service with the provided dependencies.
func NewService(locator Locator, backuper Backuper, history History, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		locator:  locator,
		backuper: backuper,
		history:  history,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Package is a located container root and its parsed index.
type Package struct {
	Root  string
	Index *wgs.ContainerIndex
}

// OpenPackage locates the container root and reads its index.
func (s *Service) OpenPackage() (*Package, error) {
	root, err := s.locator.ContainerRoot()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("container root located", "path", root)

	idx, err := wgs.ReadIndexFile(root)
	if err != nil {
		return nil, fmt.Errorf("reading container index: %w", err)
	}
	return &Package{Root: root, Index: idx}, nil
}

// ContainerName returns the container name used for the save at path.
func ContainerName(savePath string) string {
	return SavePrefix + filepath.Base(savePath)
}

// ImportResult describes a completed import.
type ImportResult struct {
	Root       string
	Container  *wgs.Container
	PayloadDir string
	BackupPath string
	Files      int
}

// Import opens the package and adds the save at savePath as a new container.
func (s *Service) Import(savePath string, strategy ingest.Strategy) (*ImportResult, error) {
	pkg, err := s.OpenPackage()
	if err != nil {
		return nil, err
	}
	return s.ImportInto(pkg, savePath, strategy)
}

// ImportInto adds the save at savePath to an already opened package. On
// success pkg.Index is replaced by the updated index. Everything is built and encoded in memory first;
// the container root is only touched after the backup succeeds. The payload
// directory is staged and renamed into place before the index is rewritten.
func (s *Service) ImportInto(pkg *Package, savePath string, strategy ingest.Strategy) (*ImportResult, error) {
	info, err := os.Stat(savePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &wgs.MissingResource{Kind: "source save file", Name: savePath}
	}
	if err != nil {
		return nil, fmt.Errorf("reading source save file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source save file is a directory: %s", savePath)
	}

	name := ContainerName(savePath)
	if pkg.Index.Find(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyImported, name)
	}

	built, err := strategy.Build(savePath)
	if err != nil {
		return nil, fmt.Errorf("building container: %w", err)
	}
	s.logger.Info("container built", "save", savePath, "strategy", strategy.Name(),
		"files", len(built.Files.Files), "size", built.Size)

	c := &wgs.Container{
		Name:     name,
		Seq:      built.Files.Seq,
		Flag:     NewContainerFlag,
		ID:       s.idgen.New(),
		Modified: wgs.TimestampFromTime(info.ModTime()),
		Size:     built.Size,
	}
	idx := *pkg.Index
	idx.Containers = slices.Clone(pkg.Index.Containers)
	idx.Append(c, wgs.TimestampFromTime(s.clock.Now()))

	// dry runs: any format violation surfaces before the first write
	if _, err := idx.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("encoding container index: %w", err)
	}
	if _, err := built.Files.Encode(func(uuid.UUID, []byte) error { return nil }); err != nil {
		return nil, fmt.Errorf("encoding container file list: %w", err)
	}

	payloadDir := filepath.Join(pkg.Root, c.PayloadDir())
	if _, err := os.Lstat(payloadDir); err == nil {
		return nil, fmt.Errorf("container directory already exists: %s", payloadDir)
	}

	backupPath, err := s.backuper.Backup(pkg.Root)
	if err != nil {
		return nil, fmt.Errorf("backing up container: %w", err)
	}
	s.logger.Info("container backed up", "path", backupPath)

	if err := writePayload(pkg.Root, payloadDir, built.Files); err != nil {
		return nil, fmt.Errorf("writing container: %w", err)
	}
	if err := wgs.WriteIndexFile(pkg.Root, &idx); err != nil {
		os.RemoveAll(payloadDir)
		return nil, fmt.Errorf("writing container index: %w", err)
	}
	pkg.Index = &idx
	s.logger.Info("container imported", "name", name, "id", c.ID.String(), "dir", payloadDir)

	result := &ImportResult{
		Root:       pkg.Root,
		Container:  c,
		PayloadDir: payloadDir,
		BackupPath: backupPath,
		Files:      len(built.Files.Files),
	}
	s.record(savePath, strategy.Name(), result)
	return result, nil
}

// record journals the import. The import is already committed, so a journal
// failure is logged rather than returned.
func (s *Service) record(savePath, strategy string, r *ImportResult) {
	if s.history == nil {
		return
	}
	rec := &history.Import{
		ImportedAt:    s.clock.Now(),
		SaveName:      filepath.Base(savePath),
		ContainerName: r.Container.Name,
		ContainerID:   r.Container.ID.String(),
		Strategy:      strategy,
		Size:          r.Container.Size,
		BlobCount:     r.Files,
		BackupPath:    r.BackupPath,
	}
	if err := s.history.RecordImport(rec); err != nil {
		s.logger.Warn("recording import failed", "error", err)
	}
}

// writePayload writes the file list into a staging directory under root and
// renames it to dest once every file is on disk.
func writePayload(root, dest string, files *wgs.ContainerFileList) error {
	staging, err := os.MkdirTemp(root, ".staging-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	if err := wgs.WriteFileList(staging, files); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.Chmod(staging, 0755); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("setting container directory permissions: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("moving container into place: %w", err)
	}
	return nil
}

// InspectSave parses and verifies a BCPS save without importing it.
func (s *Service) InspectSave(path string) (*savefile.SaveFile, error) {
	sf, err := savefile.Load(path)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("save inspected", "path", path, "chunks", len(sf.Chunks))
	return sf, nil
}

// GetHistory returns the most recent imports, newest first.
func (s *Service) GetHistory(limit int) ([]*history.Import, error) {
	if s.history == nil {
		return nil, nil
	}
	imports, err := s.history.ListImports(limit)
	if err != nil {
		return nil, fmt.Errorf("listing imports: %w", err)
	}
	return imports, nil
}

// FindImports returns every recorded import of the save named saveName,
// oldest first.
func (s *Service) FindImports(saveName string) ([]*history.Import, error) {
	if s.history == nil {
		return nil, nil
	}
	imports, err := s.history.FindImportsBySave(filepath.Base(saveName))
	if err != nil {
		return nil, fmt.Errorf("finding imports of %s: %w", saveName, err)
	}
	return imports, nil
}

// DecompressSave verifies the BCPS save at path and writes its uncompressed
// contents to outPath.
func (s *Service) DecompressSave(path, outPath string) (*savefile.SaveFile, error) {
	sf, err := s.InspectSave(path)
	if err != nil {
		return nil, err
	}
	data, err := sf.Decompress()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing decompressed save: %w", err)
	}
	s.logger.Info("save decompressed", "path", path, "out", outPath, "bytes", len(data))
	return sf, nil
}
