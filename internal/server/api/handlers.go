package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HenryLai921/share-files/internal/server/config"
	"github.com/HenryLai921/share-files/internal/server/database"
	"github.com/HenryLai921/share-files/internal/server/service"
	"github.com/HenryLai921/share-files/internal/server/session"
)

// Handler contains the HTTP handlers for the file host.
type Handler struct {
	auth     *service.AuthService
	files    *service.FileService
	sessions session.Tracker
	db       *database.DB
	cfg      *config.Config
}

// NewHandler creates a new handler with its service dependencies.
func NewHandler(auth *service.AuthService, files *service.FileService, sessions session.Tracker, db *database.DB, cfg *config.Config) *Handler {
	return &Handler{auth: auth, files: files, sessions: sessions, db: db, cfg: cfg}
}

// --- Auth pages ---

// HandleIndex redirects to the dashboard for signed-in users, otherwise to
// the login form.
func (h *Handler) HandleIndex(c echo.Context) error {
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		if _, err := parseSession([]byte(h.cfg.SessionSecret), cookie.Value); err == nil {
			return c.Redirect(http.StatusSeeOther, "/dashboard")
		}
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

// ShowLogin handles GET /login.
func (h *Handler) ShowLogin(c echo.Context) error {
	return c.Render(http.StatusOK, "login.html", echo.Map{"Flash": popFlash(c)})
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	user, err := h.auth.Login(c.Request().Context(), username, password)
	if err != nil {
		setFlash(c, "Invalid username or password")
		return c.Redirect(http.StatusSeeOther, "/login")
	}

	token, err := signSession([]byte(h.cfg.SessionSecret), user, h.cfg.SessionTTL)
	if err != nil {
		setFlash(c, "Sign-in failed, please try again")
		return c.Redirect(http.StatusSeeOther, "/login")
	}

	h.sessions.RecordLogin(user.ID, user.Username)
	setSessionCookie(c, token, h.cfg.SessionTTL)
	return c.Redirect(http.StatusSeeOther, "/dashboard")
}

// ShowRegister handles GET /register.
func (h *Handler) ShowRegister(c echo.Context) error {
	return c.Render(http.StatusOK, "register.html", echo.Map{"Flash": popFlash(c)})
}

// HandleRegister handles POST /register.
func (h *Handler) HandleRegister(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	_, err := h.auth.Register(c.Request().Context(), username, password)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		setFlash(c, "Username and password must not be empty")
		return c.Redirect(http.StatusSeeOther, "/register")
	case errors.Is(err, service.ErrDuplicateUsername):
		setFlash(c, "That username is already registered, please pick another")
		return c.Redirect(http.StatusSeeOther, "/register")
	case err != nil:
		setFlash(c, "Registration failed, please try again")
		return c.Redirect(http.StatusSeeOther, "/register")
	}

	setFlash(c, "Account created, please sign in")
	return c.Redirect(http.StatusSeeOther, "/login")
}

// HandleLogout handles GET /logout. Works with or without a valid session.
func (h *Handler) HandleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		if claims, err := parseSession([]byte(h.cfg.SessionSecret), cookie.Value); err == nil {
			h.sessions.RecordLogout(claims.UserID)
		}
	}
	clearSessionCookie(c)
	return c.Redirect(http.StatusSeeOther, "/login")
}

// --- File pages ---

// HandleDashboard handles GET /dashboard.
func (h *Handler) HandleDashboard(c echo.Context) error {
	p := principal(c)

	files, err := h.files.List(c.Request().Context(), p.UserID, p.Role)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to list files")
	}

	data := echo.Map{
		"Username": p.Username,
		"Files":    files,
		"Flash":    popFlash(c),
	}
	if p.Role == database.RoleAdmin {
		data["ActiveSessions"] = h.sessions.Active()
	}
	return c.Render(http.StatusOK, "dashboard.html", data)
}

// ShowUpload handles GET /upload.
func (h *Handler) ShowUpload(c echo.Context) error {
	return c.Render(http.StatusOK, "upload.html", echo.Map{"Flash": popFlash(c)})
}

// HandleUpload handles POST /upload (multipart form, "file" field).
func (h *Handler) HandleUpload(c echo.Context) error {
	p := principal(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		setFlash(c, "No file selected")
		return c.Redirect(http.StatusSeeOther, "/upload")
	}

	src, err := fileHeader.Open()
	if err != nil {
		setFlash(c, "Failed to read the uploaded file")
		return c.Redirect(http.StatusSeeOther, "/upload")
	}
	defer src.Close()

	result, err := h.files.Upload(c.Request().Context(), p.UserID, fileHeader.Filename, src)
	if err != nil {
		setFlash(c, uploadErrorMessage(err))
		return c.Redirect(http.StatusSeeOther, "/upload")
	}

	setFlash(c, uploadNotice(result))
	return c.Redirect(http.StatusSeeOther, "/dashboard")
}

// HandleDownload handles GET /download/:download_id. No authentication:
// the opaque id is the capability.
func (h *Handler) HandleDownload(c echo.Context) error {
	result, err := h.files.Download(c.Request().Context(), c.Param("download_id"))
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.String(http.StatusNotFound, "file not found")
	case errors.Is(err, service.ErrGone):
		return c.String(http.StatusGone, "file content no longer available")
	case err != nil:
		return c.String(http.StatusInternalServerError, "download failed")
	}

	return c.Attachment(result.Path, result.DisplayName)
}

// HandleDelete handles POST /delete/:file_id.
func (h *Handler) HandleDelete(c echo.Context) error {
	p := principal(c)

	fileID, err := strconv.ParseInt(c.Param("file_id"), 10, 64)
	if err != nil {
		setFlash(c, "File not found or not yours to delete")
		return c.Redirect(http.StatusSeeOther, "/dashboard")
	}

	err = h.files.Delete(c.Request().Context(), fileID, p.UserID, p.Role)
	switch {
	case errors.Is(err, service.ErrNotFoundOrForbidden):
		setFlash(c, "File not found or not yours to delete")
	case err != nil:
		setFlash(c, "Failed to delete file")
	default:
		setFlash(c, "File deleted")
	}
	return c.Redirect(http.StatusSeeOther, "/dashboard")
}

// --- JSON API ---

type fileDTO struct {
	ID            int64     `json:"id"`
	Filename      string    `json:"original_filename"`
	Size          int64     `json:"file_size"`
	UploadTime    time.Time `json:"upload_time"`
	DownloadCount int       `json:"download_count"`
	DownloadID    string    `json:"download_id"`
}

// HandleAPIFiles handles GET /api/files: the requester's own files.
func (h *Handler) HandleAPIFiles(c echo.Context) error {
	p := principal(c)

	files, err := h.files.ListOwn(c.Request().Context(), p.UserID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list files"})
	}

	out := make([]fileDTO, 0, len(files))
	for _, f := range files {
		out = append(out, fileDTO{
			ID:            f.ID,
			Filename:      f.DisplayName,
			Size:          f.Size,
			UploadTime:    f.UploadTime,
			DownloadCount: f.DownloadCount,
			DownloadID:    f.DownloadID,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleAPIUpload handles POST /api/upload (multipart form, "file" field).
// Machine-readable counterpart of HandleUpload, used by the CLI client.
func (h *Handler) HandleAPIUpload(c echo.Context) error {
	p := principal(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.files.Upload(c.Request().Context(), p.UserID, fileHeader.Filename, src)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":           result.FileID,
		"filename":     result.DisplayName,
		"size":         result.Size,
		"download_id":  result.DownloadID,
		"download_url": fmt.Sprintf("%s/download/%s", h.cfg.BaseURL, result.DownloadID),
		"notice":       noticeString(result.Notice),
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.files.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_users":        stats.TotalUsers,
		"total_files":        stats.TotalFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// --- Helpers ---

// mapServiceError translates service-layer errors into JSON responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no file content or name provided"})
	case errors.Is(err, service.ErrUnsupportedType):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file type not allowed"})
	case errors.Is(err, service.ErrEmptyFile):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file is empty"})
	case errors.Is(err, service.ErrTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrGone):
		return c.JSON(http.StatusGone, echo.Map{"error": "file content no longer available"})
	case errors.Is(err, service.ErrNotFoundOrForbidden):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found or not yours to delete"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// uploadErrorMessage renders an upload failure as a flash notice.
func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return "No file selected"
	case errors.Is(err, service.ErrUnsupportedType):
		return "That file type is not allowed"
	case errors.Is(err, service.ErrEmptyFile):
		return "The uploaded file is empty"
	case errors.Is(err, service.ErrTooLarge):
		return "The file is larger than the allowed maximum"
	default:
		return "Upload failed, please try again"
	}
}

// uploadNotice renders the single success notice: truncation wins over
// rename, otherwise a plain confirmation.
func uploadNotice(result *service.UploadResult) string {
	switch result.Notice {
	case service.NoticeTruncated:
		return fmt.Sprintf("File name was too long and was shortened to %q", result.DisplayName)
	case service.NoticeRenamed:
		return fmt.Sprintf("A file with that name already exists, saved as %q", result.DisplayName)
	default:
		return fmt.Sprintf("File %q uploaded successfully", result.DisplayName)
	}
}

func noticeString(n service.Notice) string {
	switch n {
	case service.NoticeTruncated:
		return "truncated"
	case service.NoticeRenamed:
		return "renamed"
	default:
		return ""
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
