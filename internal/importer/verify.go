package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sfimport/internal/wgs"
)

// ContainerStatus is the outcome of checking one container's payload.
type ContainerStatus struct {
	Container *wgs.Container
	Files     *wgs.ContainerFileList
	Err       error

	// Orphans are blob files in the payload directory that the file list
	// does not reference.
	Orphans []string
}

// SizeMatches reports whether the recorded container size equals the total
// size of its blobs. Imported containers always match.
func (cs *ContainerStatus) SizeMatches() bool {
	return cs.Files != nil && cs.Files.Size() == cs.Container.Size
}

// VerifyContainers loads the file list and blobs of every container in the
// index. Failures are reported per container.
func (s *Service) VerifyContainers() (*Package, []*ContainerStatus, error) {
	pkg, err := s.OpenPackage()
	if err != nil {
		return nil, nil, err
	}

	statuses := make([]*ContainerStatus, 0, len(pkg.Index.Containers))
	for _, c := range pkg.Index.Containers {
		dir := filepath.Join(pkg.Root, c.PayloadDir())
		st := &ContainerStatus{Container: c}
		st.Files, st.Err = loadFileList(dir, c.Seq)
		if st.Err == nil {
			st.Orphans, st.Err = orphanBlobs(dir, st.Files)
		}
		if st.Err != nil {
			s.logger.Warn("container check failed", "name", c.Name, "error", st.Err)
		} else if len(st.Orphans) > 0 {
			s.logger.Warn("container has unreferenced blobs", "name", c.Name, "orphans", len(st.Orphans))
		}
		statuses = append(statuses, st)
	}
	return pkg, statuses, nil
}

// loadFileList finds the manifest whose sequence number matches seq.
func loadFileList(dir string, seq uint8) (*wgs.ContainerFileList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &wgs.MissingResource{Kind: "container directory", Name: dir}
		}
		return nil, fmt.Errorf("listing container directory: %w", err)
	}

	var found []uint8
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "container.") {
			continue
		}
		n, err := wgs.ParseFileListName(e.Name())
		if err != nil {
			continue
		}
		if n == seq {
			return wgs.ReadFileList(dir, seq)
		}
		found = append(found, n)
	}
	if len(found) > 0 {
		return nil, wgs.Violationf("container file list sequence %v does not match container sequence %d", found, seq)
	}
	return nil, &wgs.MissingResource{Kind: "container file list", Name: filepath.Join(dir, wgs.FileListName(seq))}
}

// orphanBlobs lists files in dir that are named like blobs but are not
// referenced by files. Stale manifests and other names are ignored.
func orphanBlobs(dir string, files *wgs.ContainerFileList) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing container directory: %w", err)
	}

	referenced := make(map[uuid.UUID]bool, len(files.Files))
	for _, f := range files.Files {
		referenced[f.ID] = true
	}

	var orphans []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := wgs.ParseBlobName(e.Name())
		if err != nil {
			continue
		}
		if !referenced[id] {
			orphans = append(orphans, e.Name())
		}
	}
	return orphans, nil
}
