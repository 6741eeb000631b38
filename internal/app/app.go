package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sfimport/internal/backup"
	"sfimport/internal/config"
	"sfimport/internal/history"
	"sfimport/internal/importer"
	"sfimport/internal/ingest"
	"sfimport/internal/locator"
	"sfimport/internal/savefile"
)

// ImporterApp is the application layer between the CLI and importer.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and releases the journal and log on Close.
type ImporterApp struct {
	cfg     *config.Config
	locator *locator.Locator
	history *history.SQLiteStore
	service *importer.Service
	idgen   importer.IDGenerator
	logger  *slog.Logger
	op      *Operation
	logFile *os.File
}

// Options adjusts how an ImporterApp is built.
type Options struct {
	// Verbose sends debug and info logs to stderr as well as the log file.
	Verbose bool

	Clock importer.Clock
	IDGen importer.IDGenerator
}

// NewImporterApp creates a fully wired ImporterApp from the given config.
// operation identifies the CLI command being run (e.g. "Import", "List").
// The caller must call Close when done.
func NewImporterApp(cfg *config.Config, operation string, opts Options) (*ImporterApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = importer.RealClock{}
	}
	idgen := opts.IDGen
	if idgen == nil {
		idgen = importer.UUIDGenerator{}
	}

	backuper, err := backup.NewBackuperFromConfig(cfg.Backup, clock)
	if err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}

	store, err := history.NewStoreFromConfig(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}

	now := clock.Now()
	opID := now.UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	loc := locator.NewFromConfig(cfg.PackageDir)
	svc := importer.NewService(loc, backuper, store, &slogAdapter{l: logger}, clock, idgen)

	op := NewOperation(operation, "", now)
	logger.Debug("operation started", "operation", operation)

	return &ImporterApp{
		cfg:     cfg,
		locator: loc,
		history: store,
		service: svc,
		idgen:   idgen,
		logger:  logger,
		op:      op,
		logFile: logFile,
	}, nil
}

// WGSDir returns the directory searched for the container root.
func (a *ImporterApp) WGSDir() string {
	return a.locator.WGSDir()
}

// OpenPackage locates the container root and reads its index.
func (a *ImporterApp) OpenPackage() (*importer.Package, error) {
	pkg, err := a.service.OpenPackage()
	return pkg, a.op.Fail(err)
}

// Import resolves savePath and imports it as a new container. An empty
// strategy uses the configured one.
func (a *ImporterApp) Import(savePath, strategy string) (*importer.ImportResult, error) {
	pkg, err := a.OpenPackage()
	if err != nil {
		return nil, err
	}
	return a.ImportInto(pkg, savePath, strategy)
}

// ImportInto is Import for a package already opened with OpenPackage.
func (a *ImporterApp) ImportInto(pkg *importer.Package, savePath, strategy string) (*importer.ImportResult, error) {
	if strategy == "" {
		strategy = a.cfg.Strategy
	}
	s, err := ingest.New(strategy, a.idgen)
	if err != nil {
		return nil, a.op.Fail(err)
	}

	absPath, err := filepath.Abs(savePath)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("resolving path: %w", err))
	}
	a.op.Parameters = absPath

	res, err := a.service.ImportInto(pkg, absPath, s)
	return res, a.op.Fail(err)
}

// VerifyContainers checks the payload of every container in the index.
func (a *ImporterApp) VerifyContainers() (*importer.Package, []*importer.ContainerStatus, error) {
	pkg, statuses, err := a.service.VerifyContainers()
	return pkg, statuses, a.op.Fail(err)
}

// InspectSave parses and verifies a BCPS save.
func (a *ImporterApp) InspectSave(path string) (*savefile.SaveFile, error) {
	a.op.Parameters = path
	sf, err := a.service.InspectSave(path)
	return sf, a.op.Fail(err)
}

// DecompressSave writes the uncompressed contents of a BCPS save to outPath.
func (a *ImporterApp) DecompressSave(path, outPath string) (*savefile.SaveFile, error) {
	a.op.Parameters = path
	sf, err := a.service.DecompressSave(path, outPath)
	return sf, a.op.Fail(err)
}

// GetHistory returns the most recent imports.
func (a *ImporterApp) GetHistory(limit int) ([]*history.Import, error) {
	imports, err := a.service.GetHistory(limit)
	return imports, a.op.Fail(err)
}

// FindImports returns every recorded import of the named save.
func (a *ImporterApp) FindImports(saveName string) ([]*history.Import, error) {
	a.op.Parameters = saveName
	imports, err := a.service.FindImports(saveName)
	return imports, a.op.Fail(err)
}

// ExportHistory writes a standalone copy of the import journal to destPath.
func (a *ImporterApp) ExportHistory(destPath string) error {
	a.op.Parameters = destPath
	if _, err := os.Stat(destPath); err == nil {
		return a.op.Fail(fmt.Errorf("export destination already exists: %s", destPath))
	}
	return a.op.Fail(a.history.BackupTo(destPath))
}

// Close logs the operation outcome and releases the journal and log file.
func (a *ImporterApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"duration", time.Since(a.op.StartedAt).Round(time.Millisecond),
	)

	var firstErr error
	if err := a.history.Close(); err != nil {
		firstErr = fmt.Errorf("closing history: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// GenerateBackupKeys creates the age key pair named by cfg for encrypted
// archive backups.
func GenerateBackupKeys(cfg config.BackupConfig, passphrase string) error {
	if cfg.RecipientPath == "" || cfg.IdentityPath == "" {
		return fmt.Errorf("recipient_path and identity_path must be configured")
	}
	return backup.GenerateKeyPair(cfg.RecipientPath, cfg.IdentityPath, passphrase)
}

// ExtractBackup unpacks an archive backup into dest. Encrypted archives are
// decrypted with the identity at cfg.IdentityPath unlocked by passphrase.
func ExtractBackup(cfg config.BackupConfig, archivePath, dest, passphrase string) error {
	if filepath.Ext(archivePath) != ".age" {
		return backup.Extract(archivePath, dest, nil)
	}
	if cfg.IdentityPath == "" {
		return fmt.Errorf("identity_path must be configured to extract encrypted backups")
	}
	identity, err := backup.UnlockIdentity(cfg.IdentityPath, passphrase)
	if err != nil {
		return err
	}
	return backup.Extract(archivePath, dest, identity)
}
