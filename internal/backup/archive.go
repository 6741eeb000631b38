package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

// Archiver writes "<dir>/<name>.backup.<timestamp>.tar.zst", or ".tar.zst.age"
// when a recipient is set.
type Archiver struct {
	dir       string
	recipient age.Recipient
	clock     Clock
}

// NewArchiver creates an Archiver. A nil recipient leaves archives unencrypted.
func NewArchiver(dir string, recipient age.Recipient, clock Clock) *Archiver {
	return &Archiver{dir: dir, recipient: recipient, clock: clock}
}

func (a *Archiver) Backup(root string) (string, error) {
	root = filepath.Clean(root)
	name := filepath.Base(root) + ".backup." + a.clock.Now().Format(TimestampLayout) + ".tar.zst"
	if a.recipient != nil {
		name += ".age"
	}
	dest := filepath.Join(a.dir, name)

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("backup destination already exists: %s", dest)
	}

	tmp, err := os.CreateTemp(a.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := a.writeArchive(tmp, root); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("renaming archive into place: %w", err)
	}

	success = true
	return dest, nil
}

// writeArchive layers tar over zstd over the optional age stream.
func (a *Archiver) writeArchive(w io.Writer, root string) error {
	var enc io.WriteCloser
	if a.recipient != nil {
		var err error
		enc, err = age.Encrypt(w, a.recipient)
		if err != nil {
			return fmt.Errorf("creating encrypted writer: %w", err)
		}
		w = enc
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := writeTar(zw, root); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("finalizing encryption: %w", err)
		}
	}
	return nil
}

// writeTar stores root under its base name so extraction recreates the
// directory itself.
func writeTar(w io.Writer, root string) error {
	base := filepath.Base(root)
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if d.Type()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// Extract unpacks an archive written by Archiver into dest. identity must be
// set for encrypted archives and is ignored otherwise.
func Extract(archivePath, dest string, identity age.Identity) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(archivePath, ".age") {
		if identity == nil {
			return fmt.Errorf("archive is encrypted: %s", archivePath)
		}
		if r, err = age.Decrypt(f, identity); err != nil {
			return fmt.Errorf("decrypting archive: %w", err)
		}
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	return extractTar(zr, dest)
}

func extractTar(r io.Reader, dest string) error {
	dest = filepath.Clean(dest)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !within(dest, target) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		if err := checkNoSymlinkParents(dest, target); err != nil {
			return fmt.Errorf("archive entry %s: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !within(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
				return fmt.Errorf("archive symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, hdr); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported archive entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

// within reports whether path lies strictly inside dir. Both must be clean.
func within(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(os.PathSeparator))
}

// checkNoSymlinkParents refuses targets whose existing parent directories
// below dest include a symlink, so no entry is written through a link.
func checkNoSymlinkParents(dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	p := dest
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		p = filepath.Join(p, part)
		info, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("parent %s is a symlink", p)
		}
	}
	return nil
}

func extractFile(r io.Reader, target string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", hdr.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
}
