package service

import (
	"context"
	"sync"
	"testing"

	"github.com/HenryLai921/share-files/internal/server/database"
	"github.com/HenryLai921/share-files/internal/server/storage"
)

// --- In-memory fakes for the store interfaces ---

type fakeFileStore struct {
	mu        sync.Mutex
	nextID    int64
	files     map[int64]*database.File
	createErr error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[int64]*database.File)}
}

func (f *fakeFileStore) CreateFile(_ context.Context, file *database.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	file.ID = f.nextID
	cp := *file
	f.files[file.ID] = &cp
	return nil
}

func (f *fakeFileStore) GetFileByID(_ context.Context, id int64) (*database.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFileStore) GetFileByDownloadID(_ context.Context, downloadID string) (*database.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.DownloadID == downloadID {
			cp := *file
			return &cp, nil
		}
	}
	return nil, database.ErrFileNotFound
}

func (f *fakeFileStore) DisplayNameTaken(_ context.Context, ownerID int64, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.UploadedBy == ownerID && file.DisplayName == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFileStore) IncrementDownloadCount(_ context.Context, downloadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.DownloadID == downloadID {
			file.DownloadCount++
			return nil
		}
	}
	return database.ErrFileNotFound
}

func (f *fakeFileStore) DeleteFile(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[id]; !ok {
		return database.ErrFileNotFound
	}
	delete(f.files, id)
	return nil
}

func (f *fakeFileStore) ListFilesByOwner(_ context.Context, ownerID int64) ([]*database.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.File
	for _, file := range f.files {
		if file.UploadedBy == ownerID {
			cp := *file
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeFileStore) ListAllFiles(_ context.Context) ([]*database.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.File
	for _, file := range f.files {
		cp := *file
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeFileStore) GetStats(_ context.Context) (*database.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &database.Stats{TotalFiles: int64(len(f.files))}
	for _, file := range f.files {
		stats.TotalDownloads += int64(file.DownloadCount)
		stats.StorageUsed += file.Size
	}
	return stats, nil
}

type fakeUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*database.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*database.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user *database.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.Username]; ok {
		return database.ErrUsernameTaken
	}
	f.nextID++
	user.ID = f.nextID
	cp := *user
	f.users[user.Username] = &cp
	return nil
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*database.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[username]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id int64) (*database.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			cp := *user
			return &cp, nil
		}
	}
	return nil, database.ErrUserNotFound
}

// --- Shared constructors ---

func defaultExts() map[string]bool {
	return map[string]bool{
		"txt": true, "pdf": true, "png": true, "jpg": true,
		"zip": true, "mp4": true,
	}
}

func newTestFileService(t *testing.T) (*FileService, *fakeFileStore, *storage.FileSystemStore) {
	t.Helper()
	files := newFakeFileStore()
	store := storage.NewFileSystemStore(t.TempDir())
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	svc := NewFileService(files, store, 50*1024*1024, 200, defaultExts())
	return svc, files, store
}
