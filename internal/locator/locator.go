// Package locator finds the game's container directory under the Xbox app's
// wgs storage.
package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// PackageName is the Microsoft Store package of the game.
const PackageName = "BethesdaSoftworks.ProjectGold_3275kfvn8vcwc"

var containerDirPattern = regexp.MustCompile(`^[0-9A-F]{16}_[0-9A-F]{32}$`)

var (
	ErrNoPackageDir      = errors.New("package_dir is not configured and LOCALAPPDATA is not set")
	ErrPackageNotFound   = errors.New("could not find the package path, make sure the Xbox version of the game is installed")
	ErrContainerNotFound = errors.New("could not find the container path, run the game once to create it")
)

// DefaultWGSDir returns %LOCALAPPDATA%\Packages\<PackageName>\SystemAppData\wgs,
// or "" when LOCALAPPDATA is not set.
func DefaultWGSDir() string {
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		return ""
	}
	return filepath.Join(local, "Packages", PackageName, "SystemAppData", "wgs")
}

// Locator resolves the container root inside a wgs directory.
type Locator struct {
	wgsDir string
}

func New(wgsDir string) *Locator {
	return &Locator{wgsDir: wgsDir}
}

// NewFromConfig uses packageDir when set and DefaultWGSDir otherwise.
func NewFromConfig(packageDir string) *Locator {
	if packageDir != "" {
		return New(packageDir)
	}
	return New(DefaultWGSDir())
}

// WGSDir returns the directory searched for containers.
func (l *Locator) WGSDir() string { return l.wgsDir }

// ContainerRoot returns the first directory, in name order, whose name is
// sixteen and thirty-two uppercase hex digits joined by an underscore.
func (l *Locator) ContainerRoot() (string, error) {
	if l.wgsDir == "" {
		return "", ErrNoPackageDir
	}
	entries, err := os.ReadDir(l.wgsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPackageNotFound, l.wgsDir)
		}
		return "", fmt.Errorf("listing %s: %w", l.wgsDir, err)
	}

	for _, e := range entries {
		if e.IsDir() && IsContainerDirName(e.Name()) {
			return filepath.Join(l.wgsDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrContainerNotFound, l.wgsDir)
}

// IsContainerDirName reports whether name has the container directory shape.
func IsContainerDirName(name string) bool {
	return containerDirPattern.MatchString(name)
}
