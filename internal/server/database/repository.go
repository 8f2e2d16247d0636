package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrFileNotFound  = errors.New("file not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Repository provides CRUD operations for users and file metadata.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// --- Users ---

// CreateUser inserts a new user and fills in the generated id and timestamp.
// Returns ErrUsernameTaken if the username is already registered; the
// existing row is left untouched.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, user.Username, user.PasswordHash, user.Role).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// --- Files ---

const fileColumns = `id, filename, original_filename, file_path, file_size,
	mime_type, download_id, uploaded_by, upload_time, download_count`

func scanFile(row pgx.Row) (*File, error) {
	f := &File{}
	err := row.Scan(
		&f.ID,
		&f.StorageName,
		&f.DisplayName,
		&f.Path,
		&f.Size,
		&f.MimeType,
		&f.DownloadID,
		&f.UploadedBy,
		&f.UploadTime,
		&f.DownloadCount,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CreateFile inserts a new file metadata row and fills in the generated id
// and upload timestamp.
func (r *Repository) CreateFile(ctx context.Context, f *File) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO files (
			filename, original_filename, file_path, file_size,
			mime_type, download_id, uploaded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, upload_time
	`,
		f.StorageName,
		f.DisplayName,
		f.Path,
		f.Size,
		f.MimeType,
		f.DownloadID,
		f.UploadedBy,
	).Scan(&f.ID, &f.UploadTime)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetFileByID retrieves a file by its numeric id.
func (r *Repository) GetFileByID(ctx context.Context, id int64) (*File, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// GetFileByDownloadID retrieves a file by its opaque download id.
func (r *Repository) GetFileByDownloadID(ctx context.Context, downloadID string) (*File, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE download_id = $1", downloadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file by download id: %w", err)
	}
	return f, nil
}

// DisplayNameTaken reports whether the owner already has a file with the
// given display name.
func (r *Repository) DisplayNameTaken(ctx context.Context, ownerID int64, name string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM files WHERE uploaded_by = $1 AND original_filename = $2
		)
	`, ownerID, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check display name: %w", err)
	}
	return exists, nil
}

// StorageNameExists reports whether any metadata row references the given
// on-disk storage name. Used by the blob janitor.
func (r *Repository) StorageNameExists(ctx context.Context, storageName string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE filename = $1)", storageName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage name: %w", err)
	}
	return exists, nil
}

// IncrementDownloadCount atomically increments the download counter.
func (r *Repository) IncrementDownloadCount(ctx context.Context, downloadID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE files SET download_count = download_count + 1 WHERE download_id = $1",
		downloadID)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// DeleteFile removes a file metadata row by id.
func (r *Repository) DeleteFile(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// ListFilesByOwner returns the owner's files, newest first.
func (r *Repository) ListFilesByOwner(ctx context.Context, ownerID int64) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+fileColumns+" FROM files WHERE uploaded_by = $1 ORDER BY upload_time DESC",
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListAllFiles returns every file, newest first.
func (r *Repository) ListAllFiles(ctx context.Context) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY upload_time DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows pgx.Rows) ([]*File, error) {
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			COUNT(*),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(file_size), 0)
		FROM files
	`).Scan(
		&stats.TotalUsers,
		&stats.TotalFiles,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
