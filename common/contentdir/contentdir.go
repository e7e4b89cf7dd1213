// Package contentdir maps artifacts to their place in the local content root.
//
// Layout:
//
//	<root>/<short commit>/tuf-mupdate.zip
//	<root>/<short commit>/manifest.toml
//	<root>/<short commit>/tuf-mupdate.zip.sha256.txt
//	<root>/<short commit>/omicron_commit   (full commit, written once)
//
// The directory is the source of truth for what has been persisted. A local
// artifact file is either absent or a complete copy of a successful transfer,
// except while a transfer for it is in progress.
package contentdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/lyzr/tufstash/common/models"
)

// MarkerFileName holds the full commit a short-commit directory was created for
const MarkerFileName = "omicron_commit"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Dir is a content root on the local filesystem
type Dir struct {
	root string
	log  Logger
}

// New creates a content directory rooted at root. The root itself is created lazily.
func New(root string, log Logger) (*Dir, error) {
	if root == "" {
		return nil, errors.New("content dir: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content root: %w", err)
	}
	return &Dir{root: abs, log: log}, nil
}

// Root returns the absolute content root
func (d *Dir) Root() string {
	return d.root
}

// DirFor returns the directory holding every artifact of a short commit
func (d *Dir) DirFor(shortCommit string) string {
	return filepath.Join(d.root, shortCommit)
}

// PathFor returns the absolute path an artifact is persisted at
func (d *Dir) PathFor(shortCommit string, role models.Role) string {
	return filepath.Join(d.root, shortCommit, role.LocalName())
}

// Exists reports whether a regular file exists at path
func (d *Dir) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// SizeOf returns the size of the file at path
func (d *Dir) SizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// EnsureDir creates the per-commit directory. Creating an existing directory is not an error.
func (d *Dir) EnsureDir(shortCommit string) error {
	if err := os.MkdirAll(d.DirFor(shortCommit), 0o755); err != nil {
		return fmt.Errorf("create commit dir %s: %w", shortCommit, err)
	}
	return nil
}

// WriteCommitMarker records the full commit for a short commit directory.
// The first writer wins; later calls leave the marker untouched.
func (d *Dir) WriteCommitMarker(shortCommit, fullCommit string) error {
	path := filepath.Join(d.DirFor(shortCommit), MarkerFileName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create commit marker: %w", err)
	}

	if _, err := f.WriteString(fullCommit); err != nil {
		f.Close()
		return fmt.Errorf("write commit marker: %w", err)
	}
	return f.Close()
}

// ReadCommitMarker returns the full commit recorded for a short commit
func (d *Dir) ReadCommitMarker(shortCommit string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.DirFor(shortCommit), MarkerFileName))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create opens the artifact's destination for writing, truncating anything there
func (d *Dir) Create(shortCommit string, role models.Role) (*os.File, error) {
	f, err := os.OpenFile(d.PathFor(shortCommit, role), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", role.LocalName(), err)
	}
	return f, nil
}

// RemoveFile deletes path. Failures are logged and swallowed: they only
// affect disk hygiene.
func (d *Dir) RemoveFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.log.Warn("failed to remove file", "path", path, "error", err)
		return
	}
	d.log.Debug("removed file", "path", path)
}

// RemoveIfSame deletes path only if it still names the file described by
// owned. A transfer uses it to clean up after itself without touching a file
// that a newer transfer created at the same path.
func (d *Dir) RemoveIfSame(path string, owned fs.FileInfo) {
	current, err := os.Stat(path)
	if err != nil {
		return
	}
	if owned == nil || !os.SameFile(current, owned) {
		d.log.Debug("skipping removal of file owned by another transfer", "path", path)
		return
	}
	d.RemoveFile(path)
}

// List enumerates every short-commit directory, most recently modified first.
// A missing root yields an empty list.
func (d *Dir) List() ([]models.PersistedEntry, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.PersistedEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read content root: %w", err)
	}

	result := make([]models.PersistedEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		entry, err := d.describe(e.Name())
		if err != nil {
			// Directory vanished or is unreadable; listing the rest is more useful than failing
			d.log.Warn("skipping unreadable commit dir", "short_commit", e.Name(), "error", err)
			continue
		}
		result = append(result, entry)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastModified.After(result[j].LastModified)
	})

	return result, nil
}

func (d *Dir) describe(shortCommit string) (models.PersistedEntry, error) {
	dir := d.DirFor(shortCommit)

	info, err := os.Stat(dir)
	if err != nil {
		return models.PersistedEntry{}, err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return models.PersistedEntry{}, err
	}

	entry := models.PersistedEntry{
		ShortCommit:  shortCommit,
		Path:         dir,
		Files:        make([]string, 0, len(files)),
		LastModified: info.ModTime(),
	}
	for _, f := range files {
		entry.Files = append(entry.Files, f.Name())
	}

	archive := d.PathFor(shortCommit, models.RoleArchive)
	if d.Exists(archive) {
		entry.Complete = true
		if size, err := d.SizeOf(archive); err == nil {
			entry.SizeBytes = size
		}
	}

	return entry, nil
}
