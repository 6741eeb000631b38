// Package backup preserves a container directory before an import rewrites
// it, either as a sibling directory copy or as a compressed tar archive that is
// optionally age-encrypted.
package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"sfimport/internal/config"
)

// TimestampLayout formats the time suffix of every backup name.
const TimestampLayout = "20060102150405"

// Clock abstracts time retrieval so backup names are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// Backuper copies a container directory somewhere safe and returns where.
type Backuper interface {
	Backup(root string) (string, error)
}

// NewBackuperFromConfig creates a Backuper based on the configuration type.
func NewBackuperFromConfig(cfg config.BackupConfig, clock Clock) (Backuper, error) {
	switch cfg.Type {
	case "copy", "":
		return NewDirCopier(clock), nil
	case "archive":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for archive backups")
		}
		var recipient age.Recipient
		if cfg.RecipientPath != "" {
			r, err := LoadRecipient(cfg.RecipientPath)
			if err != nil {
				return nil, err
			}
			recipient = r
		}
		return NewArchiver(cfg.Dir, recipient, clock), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown backup type: %q", cfg.Type)
	}
}

// Disabled skips the backup and reports an empty location.
type Disabled struct{}

func (Disabled) Backup(string) (string, error) { return "", nil }

// DirCopier copies the container directory to "<root>.backup.<timestamp>".
type DirCopier struct {
	clock Clock
}

func NewDirCopier(clock Clock) *DirCopier {
	return &DirCopier{clock: clock}
}

func (c *DirCopier) Backup(root string) (string, error) {
	root = filepath.Clean(root)
	dest := root + ".backup." + c.clock.Now().Format(TimestampLayout)
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("backup destination already exists: %s", dest)
	}

	if err := copyTree(root, dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("copying %s: %w", root, err)
	}
	return dest, nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info)
		default:
			return fmt.Errorf("unsupported file type: %s", path)
		}
	})
}

func copyFile(src, dest string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}
