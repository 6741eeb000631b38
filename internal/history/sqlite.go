package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sfimport/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore records imports in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with the pragmas the store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// every pooled connection to ":memory:" would otherwise be its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring history database: %w", err)
	}
	return db, nil
}

// CheckMigrations reports whether the schema is current.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// RecordImport inserts rec and sets its ID.
func (s *SQLiteStore) RecordImport(rec *Import) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now()
	}
	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO imports (imported_at, save_name, container_name, container_id, strategy, size, blob_count, backup_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ImportedAt.UTC(), rec.SaveName, rec.ContainerName, rec.ContainerID,
		rec.Strategy, int64(rec.Size), rec.BlobCount, rec.BackupPath,
	)
	if err != nil {
		return fmt.Errorf("recording import: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("recording import: %w", err)
	}
	rec.ID = id
	return nil
}

// ListImports returns up to limit imports, newest first.
func (s *SQLiteStore) ListImports(limit int) ([]*Import, error) {
	return s.query(`
		SELECT id, imported_at, save_name, container_name, container_id, strategy, size, blob_count, backup_path
		FROM imports
		ORDER BY id DESC
		LIMIT ?`, limit)
}

// FindImportsBySave returns every import of the save named saveName, oldest first.
func (s *SQLiteStore) FindImportsBySave(saveName string) ([]*Import, error) {
	return s.query(`
		SELECT id, imported_at, save_name, container_name, container_id, strategy, size, blob_count, backup_path
		FROM imports
		WHERE save_name = ?
		ORDER BY id`, saveName)
}

func (s *SQLiteStore) query(q string, args ...any) ([]*Import, error) {
	rows, err := s.db.QueryContext(context.Background(), q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing imports: %w", err)
	}
	defer rows.Close()

	var result []*Import
	for rows.Next() {
		var rec Import
		var size int64
		if err := rows.Scan(&rec.ID, &rec.ImportedAt, &rec.SaveName, &rec.ContainerName,
			&rec.ContainerID, &rec.Strategy, &size, &rec.BlobCount, &rec.BackupPath); err != nil {
			return nil, fmt.Errorf("scanning import: %w", err)
		}
		rec.Size = uint64(size)
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing imports: %w", err)
	}
	return result, nil
}

// BackupTo writes a complete copy of the database to destPath.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up history database: %w", err)
	}
	return nil
}

// Path returns the database location given at open.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
