package database

import "time"

// User roles stored in users.role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// File is the metadata row for one stored blob.
type File struct {
	ID            int64
	StorageName   string  // filename column: opaque on-disk name, unique
	DisplayName   string  // original_filename column: user-facing name
	Path          string  // file_path column: location on disk
	Size          int64
	MimeType      *string // nil when detection failed
	DownloadID    string
	UploadedBy    int64
	UploadTime    time.Time
	DownloadCount int
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalUsers     int64
	TotalFiles     int64
	TotalDownloads int64
	StorageUsed    int64
}
