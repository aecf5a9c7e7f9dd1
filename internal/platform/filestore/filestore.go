// Package filestore persists uploaded patient files on disk. Files are
// organized into per-category, per-patient directories under a single upload
// root, and named with an epoch-millisecond suffix so repeated uploads never
// collide.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	ErrFileMissing   = errors.New("file does not exist")
	ErrNotRegular    = errors.New("path is not a regular file")
	ErrEmptyFilename = errors.New("original filename is required")
)

// Category determines which directory subtree a file lands in.
type Category string

const (
	CategoryPhoto  Category = "photo"
	CategoryProof  Category = "proof"
	CategoryPolicy Category = "policy"
	CategoryOther  Category = "other"
)

// categoryDirs maps a category to its directory under the upload root. The
// names mirror the layout the frontend already links against.
var categoryDirs = map[Category]string{
	CategoryPhoto:  "images",
	CategoryProof:  "files",
	CategoryPolicy: "insurance",
	CategoryOther:  "others",
}

// FallbackFolder is where files are staged when the owning patient is not yet
// known at upload time.
const FallbackFolder = "others/unknown"

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeName replaces whitespace runs in a patient name with underscores.
func SanitizeName(name string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
}

// StampedName builds the stored filename for base, keeping the extension of
// currentName: <base>_<epochMillis><ext>.
func StampedName(base, currentName string) string {
	return fmt.Sprintf("%s_%d%s", SanitizeName(base), time.Now().UnixMilli(), filepath.Ext(currentName))
}

// Store writes and moves files beneath a fixed root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the upload root directory.
func (s *Store) Root() string {
	return s.root
}

// ResolveFolder maps a category and patient name to the destination folder.
// An empty patient name routes to the fallback bucket so the file can be
// relocated once the patient is known.
func (s *Store) ResolveFolder(category Category, patientName string) string {
	dir, ok := categoryDirs[category]
	if !ok {
		dir = categoryDirs[CategoryOther]
	}
	name := SanitizeName(patientName)
	if name == "" {
		return filepath.Join(s.root, FallbackFolder)
	}
	return filepath.Join(s.root, dir, name)
}

// Save writes the stream into folder under a collision-resistant name derived
// from originalName: <base>_<epochMillis>[_<n>].<ext>. The folder is created
// if absent. Returns the stored path.
func (s *Store) Save(r io.Reader, folder, originalName string) (string, error) {
	if originalName == "" {
		return "", ErrEmptyFilename
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", folder, err)
	}

	ext := filepath.Ext(originalName)
	base := SanitizeName(strings.TrimSuffix(filepath.Base(originalName), ext))
	stamp := time.Now().UnixMilli()

	path := filepath.Join(folder, fmt.Sprintf("%s_%d%s", base, stamp, ext))
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(folder, fmt.Sprintf("%s_%d_%d%s", base, stamp, n, ext))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file %s: %w", path, err)
	}
	return path, nil
}

// Relocate moves a previously staged file into its correct folder, renaming
// it to newName (or keeping the current name when newName is empty). It is a
// no-op when the file already lives in the target folder, and never
// overwrites an existing file; a colliding name gets a numeric suffix. On
// failure the original file is left in place.
func (s *Store) Relocate(currentPath, correctFolder, newName string) (string, error) {
	info, err := os.Stat(currentPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("relocate %s: %w", currentPath, ErrFileMissing)
	}
	if err != nil {
		return "", fmt.Errorf("relocate %s: %w", currentPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("relocate %s: %w", currentPath, ErrNotRegular)
	}

	if newName == "" {
		newName = filepath.Base(currentPath)
	}
	target := filepath.Join(correctFolder, newName)
	if target == currentPath {
		return currentPath, nil
	}

	if err := os.MkdirAll(correctFolder, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", correctFolder, err)
	}

	ext := filepath.Ext(newName)
	stem := strings.TrimSuffix(newName, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		target = filepath.Join(correctFolder, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	if err := os.Rename(currentPath, target); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", currentPath, target, err)
	}

	s.pruneDir(filepath.Dir(currentPath))
	return target, nil
}

// Remove deletes a stored file, tolerating one that is already gone, and
// prunes the parent directory when the deletion leaves it empty.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	s.pruneDir(filepath.Dir(path))
	return nil
}

// pruneDir removes dir if it is empty and not the upload root itself.
func (s *Store) pruneDir(dir string) {
	if dir == "" || dir == "." || dir == s.root {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}
