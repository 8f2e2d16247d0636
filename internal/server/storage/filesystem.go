package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BlobInfo describes one stored blob on disk.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store defines the interface for blob storage backends.
// This allows swapping the filesystem for S3 or other backends later.
type Store interface {
	EnsureDir() error

	// SaveTemp streams data to a staging file and returns its path and
	// true byte size. The caller promotes or discards it.
	SaveTemp(data io.Reader) (tmpPath string, size int64, err error)
	// Promote moves a staged file into place under storageName and
	// returns the final path.
	Promote(tmpPath, storageName string) (string, error)
	// DiscardTemp removes a staged file. Best-effort.
	DiscardTemp(tmpPath string)

	// Path returns the on-disk path for a stored blob, or an error if
	// the blob is missing.
	Path(storageName string) (string, error)
	Delete(storageName string) error
	List() ([]BlobInfo, error)
}

// FileSystemStore stores blobs on the local filesystem. Staged uploads
// live in a tmp/ subdirectory of the base path so Promote is a rename
// on the same filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage and staging directories if they don't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.tmpDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// SaveTemp writes data to a fresh staging file and returns its path and size.
func (fs *FileSystemStore) SaveTemp(data io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(fs.tmpDir(), "upload-*.part")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}

	n, err := io.Copy(tmp, data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to write staging file: %w", err)
	}

	return tmp.Name(), n, nil
}

// Promote renames a staged file to its final storage name.
func (fs *FileSystemStore) Promote(tmpPath, storageName string) (string, error) {
	finalPath := fs.blobPath(storageName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", tmpPath, err)
	}
	return finalPath, nil
}

// DiscardTemp removes a staged file, ignoring errors.
func (fs *FileSystemStore) DiscardTemp(tmpPath string) {
	if tmpPath != "" {
		os.Remove(tmpPath)
	}
}

// Path returns the path to a stored blob. Returns an error if the blob
// does not exist.
func (fs *FileSystemStore) Path(storageName string) (string, error) {
	p := fs.blobPath(storageName)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("blob %s not found", storageName)
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}
	return p, nil
}

// Delete removes a stored blob. A missing blob is not an error.
func (fs *FileSystemStore) Delete(storageName string) error {
	p := fs.blobPath(storageName)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", storageName, err)
	}
	return nil
}

// List returns info for every stored blob. Staged files are excluded.
func (fs *FileSystemStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var blobs []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		blobs = append(blobs, BlobInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return blobs, nil
}

func (fs *FileSystemStore) blobPath(storageName string) string {
	return filepath.Join(fs.basePath, storageName)
}

func (fs *FileSystemStore) tmpDir() string {
	return filepath.Join(fs.basePath, "tmp")
}
