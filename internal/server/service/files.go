package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/HenryLai921/share-files/internal/server/database"
	"github.com/HenryLai921/share-files/internal/server/storage"
)

// Sentinel errors for file operations.
var (
	ErrInvalidInput    = errors.New("no file content or name provided")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrStorage         = errors.New("failed to store file")
	ErrNotFound        = errors.New("file not found")
	// ErrGone marks a file whose metadata row exists but whose blob was
	// removed out-of-band.
	ErrGone = errors.New("file content no longer available")
	// ErrNotFoundOrForbidden deliberately conflates a missing file with an
	// unauthorized delete so callers cannot probe other users' file ids.
	ErrNotFoundOrForbidden = errors.New("file not found or not yours to delete")
)

// Notice is the single user-facing remark attached to a successful upload.
type Notice int

const (
	NoticeNone Notice = iota
	// NoticeRenamed: a collision suffix was appended to the display name.
	NoticeRenamed
	// NoticeTruncated: the display name was shortened. Takes precedence
	// over NoticeRenamed when both occurred.
	NoticeTruncated
)

// FileStore is the metadata persistence needed by FileService.
// Satisfied by *database.Repository.
type FileStore interface {
	CreateFile(ctx context.Context, f *database.File) error
	GetFileByID(ctx context.Context, id int64) (*database.File, error)
	GetFileByDownloadID(ctx context.Context, downloadID string) (*database.File, error)
	DisplayNameTaken(ctx context.Context, ownerID int64, name string) (bool, error)
	IncrementDownloadCount(ctx context.Context, downloadID string) error
	DeleteFile(ctx context.Context, id int64) error
	ListFilesByOwner(ctx context.Context, ownerID int64) ([]*database.File, error)
	ListAllFiles(ctx context.Context) ([]*database.File, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	FileID      int64
	DownloadID  string
	DisplayName string
	Size        int64
	Notice      Notice
}

// DownloadResult locates a blob for streaming, labeled with its display name.
type DownloadResult struct {
	Path        string
	DisplayName string
	MimeType    *string
	Size        int64
}

// FileService contains the business logic for uploads, downloads, deletes
// and listings.
type FileService struct {
	files         FileStore
	store         storage.Store
	maxUploadSize int64
	maxNameLength int
	allowedExts   map[string]bool
}

// NewFileService creates a file service.
func NewFileService(files FileStore, store storage.Store, maxUploadSize int64, maxNameLength int, allowedExts map[string]bool) *FileService {
	return &FileService{
		files:         files,
		store:         store,
		maxUploadSize: maxUploadSize,
		maxNameLength: maxNameLength,
		allowedExts:   allowedExts,
	}
}

// Upload validates and stores one file for the owner:
// extension check, staging to learn the true size, name resolution,
// promote to the final blob, metadata insert.
func (s *FileService) Upload(ctx context.Context, ownerID int64, declaredName string, data io.Reader) (*UploadResult, error) {
	clean := sanitizeFilename(declaredName)
	if clean == "" {
		return nil, ErrInvalidInput
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(clean), "."))
	if ext == "" || !s.allowedExts[ext] {
		return nil, ErrUnsupportedType
	}

	// Stage to disk first: the declared size of a multipart part is not
	// trustworthy, only the staged byte count is.
	tmpPath, size, err := s.store.SaveTemp(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if size == 0 {
		s.store.DiscardTemp(tmpPath)
		return nil, ErrEmptyFile
	}
	if size > s.maxUploadSize {
		s.store.DiscardTemp(tmpPath)
		return nil, ErrTooLarge
	}

	res, err := s.resolveName(ctx, clean, ownerID)
	if err != nil {
		s.store.DiscardTemp(tmpPath)
		return nil, err
	}

	finalPath, err := s.store.Promote(tmpPath, res.StorageName)
	if err != nil {
		s.store.DiscardTemp(tmpPath)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// Best-effort MIME detection from the display name; failure is not
	// an error, the column stays NULL.
	var mimeType *string
	if mt := mime.TypeByExtension(filepath.Ext(res.DisplayName)); mt != "" {
		mimeType = &mt
	}

	file := &database.File{
		StorageName: res.StorageName,
		DisplayName: res.DisplayName,
		Path:        finalPath,
		Size:        size,
		MimeType:    mimeType,
		DownloadID:  uuid.NewString(),
		UploadedBy:  ownerID,
	}

	if err := s.files.CreateFile(ctx, file); err != nil {
		// Remove the blob so this path never leaves a row-less orphan
		// beyond a hard crash.
		if delErr := s.store.Delete(res.StorageName); delErr != nil {
			slog.Error("failed to remove blob after insert failure",
				"storage_name", res.StorageName, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	notice := NoticeNone
	switch {
	case res.Truncated:
		notice = NoticeTruncated
	case res.Renamed:
		notice = NoticeRenamed
	}

	slog.Info("file uploaded",
		"file_id", file.ID,
		"owner", ownerID,
		"display_name", file.DisplayName,
		"size", size,
	)

	return &UploadResult{
		FileID:      file.ID,
		DownloadID:  file.DownloadID,
		DisplayName: file.DisplayName,
		Size:        size,
		Notice:      notice,
	}, nil
}

// Download resolves an opaque download id to a blob on disk and counts the
// attempt. The counter only moves once a valid blob has been located, and
// is best-effort after that point.
func (s *FileService) Download(ctx context.Context, downloadID string) (*DownloadResult, error) {
	file, err := s.files.GetFileByDownloadID(ctx, downloadID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	path, err := s.store.Path(file.StorageName)
	if err != nil {
		// Row exists but the blob was removed out-of-band.
		return nil, ErrGone
	}

	if err := s.files.IncrementDownloadCount(ctx, file.DownloadID); err != nil {
		slog.Error("failed to increment download count",
			"download_id", file.DownloadID, "error", err)
	}

	return &DownloadResult{
		Path:        path,
		DisplayName: file.DisplayName,
		MimeType:    file.MimeType,
		Size:        file.Size,
	}, nil
}

// Delete removes a file's blob and metadata row. Policy: owner-or-admin.
// A missing file and an unauthorized requester are indistinguishable to
// the caller.
func (s *FileService) Delete(ctx context.Context, fileID, requesterID int64, requesterRole string) error {
	file, err := s.files.GetFileByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrNotFoundOrForbidden
		}
		return err
	}

	if file.UploadedBy != requesterID && requesterRole != database.RoleAdmin {
		return ErrNotFoundOrForbidden
	}

	// Blob first: if the process dies between the two steps, the survivor
	// is an orphan blob (reaped by the janitor) rather than a row pointing
	// at nothing.
	if err := s.store.Delete(file.StorageName); err != nil {
		slog.Error("failed to delete blob, removing metadata anyway",
			"storage_name", file.StorageName, "error", err)
	}

	if err := s.files.DeleteFile(ctx, file.ID); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	slog.Info("file deleted",
		"file_id", file.ID,
		"display_name", file.DisplayName,
		"requester", requesterID,
	)
	return nil
}

// List returns the files visible to the requester: admins see everything,
// everyone else sees their own uploads.
func (s *FileService) List(ctx context.Context, requesterID int64, requesterRole string) ([]*database.File, error) {
	if requesterRole == database.RoleAdmin {
		return s.files.ListAllFiles(ctx)
	}
	return s.files.ListFilesByOwner(ctx, requesterID)
}

// ListOwn returns only the requester's files regardless of role.
func (s *FileService) ListOwn(ctx context.Context, requesterID int64) ([]*database.File, error) {
	return s.files.ListFilesByOwner(ctx, requesterID)
}

// Stats returns aggregate server statistics.
func (s *FileService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.files.GetStats(ctx)
}
