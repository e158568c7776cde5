package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Store is the byte-level contract the compositing core reads and writes
// through. Delete reports whether a file was actually removed; deleting a
// missing path is a no-op, which keeps cleanup sweeps idempotent.
type Store interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Exists(path string) bool
	Delete(path string) bool
	Size(path string) int64
}

const (
	uploadDirName = "uploads"
	editedDirName = "edited"
	tempDirName   = "temp"
)

var errMissingRoot = errors.New("storage: root path is required")

// Disk stores artifacts on the local filesystem beneath a fixed root,
// split into uploads/ (source documents), edited/ (committed outputs) and
// temp/<session_id>/ (session-scoped images).
type Disk struct {
	root   string
	logger *zap.Logger
}

// NewDisk creates the storage root and its subdirectories.
func NewDisk(root string, logger *zap.Logger) (*Disk, error) {
	if root == "" {
		return nil, errMissingRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{uploadDirName, editedDirName, tempDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s dir: %w", dir, err)
		}
	}
	return &Disk{root: root, logger: logger}, nil
}

// UploadPath returns the storage path for an uploaded source document.
func (d *Disk) UploadPath(documentID, filename string) string {
	return filepath.Join(d.root, uploadDirName, fmt.Sprintf("%s_%s", documentID, filename))
}

// EditedPath returns the storage path for a committed output document.
func (d *Disk) EditedPath(sessionID, filename string) string {
	return filepath.Join(d.root, editedDirName, fmt.Sprintf("%s_%s", sessionID, filename))
}

// SessionImagePath returns the storage path for a session-scoped image.
func (d *Disk) SessionImagePath(sessionID, imageID, filename string) string {
	return filepath.Join(d.root, tempDirName, sessionID, fmt.Sprintf("%s_%s", imageID, filename))
}

// ListSessionDirs returns the session identifiers that still have a temp
// directory on disk.
func (d *Disk) ListSessionDirs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, tempDirName))
	if err != nil {
		return nil, fmt.Errorf("storage: list session dirs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// ListEditedFiles returns the full paths of committed outputs on disk.
func (d *Disk) ListEditedFiles() ([]string, error) {
	dir := filepath.Join(d.root, editedDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list edited files: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// RemoveSessionDir deletes the whole temp directory for a session.
func (d *Disk) RemoveSessionDir(sessionID string) bool {
	dir := filepath.Join(d.root, tempDirName, sessionID)
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		d.logger.Warn("session temp dir removal failed", zap.String("dir", dir), zap.Error(err))
		return false
	}
	return true
}

func (d *Disk) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (d *Disk) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Disk) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (d *Disk) Delete(path string) bool {
	if !d.Exists(path) {
		return false
	}
	if err := os.Remove(path); err != nil {
		d.logger.Warn("file removal failed", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (d *Disk) Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}
