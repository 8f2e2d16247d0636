package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HenryLai921/share-files/internal/server/config"
	"github.com/HenryLai921/share-files/internal/server/database"
	"github.com/HenryLai921/share-files/internal/server/service"
	"github.com/HenryLai921/share-files/internal/server/session"
	"github.com/HenryLai921/share-files/internal/server/storage"
)

// --- In-memory stores backing the full-stack handler tests ---

type memUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*database.User
}

func (m *memUserStore) CreateUser(_ context.Context, user *database.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return database.ErrUsernameTaken
	}
	m.nextID++
	user.ID = m.nextID
	cp := *user
	m.users[user.Username] = &cp
	return nil
}

func (m *memUserStore) GetUserByUsername(_ context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *memUserStore) GetUserByID(_ context.Context, id int64) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			cp := *user
			return &cp, nil
		}
	}
	return nil, database.ErrUserNotFound
}

type memFileStore struct {
	mu     sync.Mutex
	nextID int64
	files  map[int64]*database.File
}

func (m *memFileStore) CreateFile(_ context.Context, f *database.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	f.ID = m.nextID
	f.UploadTime = time.Now()
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *memFileStore) GetFileByID(_ context.Context, id int64) (*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFileStore) GetFileByDownloadID(_ context.Context, downloadID string) (*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.DownloadID == downloadID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, database.ErrFileNotFound
}

func (m *memFileStore) DisplayNameTaken(_ context.Context, ownerID int64, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.UploadedBy == ownerID && f.DisplayName == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memFileStore) IncrementDownloadCount(_ context.Context, downloadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.DownloadID == downloadID {
			f.DownloadCount++
			return nil
		}
	}
	return database.ErrFileNotFound
}

func (m *memFileStore) DeleteFile(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return database.ErrFileNotFound
	}
	delete(m.files, id)
	return nil
}

func (m *memFileStore) ListFilesByOwner(_ context.Context, ownerID int64) ([]*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.File
	for _, f := range m.files {
		if f.UploadedBy == ownerID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memFileStore) ListAllFiles(_ context.Context) ([]*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.File
	for _, f := range m.files {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memFileStore) GetStats(_ context.Context) (*database.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &database.Stats{TotalFiles: int64(len(m.files))}
	for _, f := range m.files {
		stats.TotalDownloads += int64(f.DownloadCount)
		stats.StorageUsed += f.Size
	}
	return stats, nil
}

// --- Test server wiring ---

func newTestApp(t *testing.T) *echo.Echo {
	t.Helper()

	cfg := &config.Config{
		BaseURL:       "http://test.local",
		MaxUploadSize: 50 * 1024 * 1024,
		MaxNameLength: 200,
		AllowedExtensions: map[string]bool{
			"txt": true, "pdf": true, "png": true,
		},
		SessionSecret:  "handlers-test-secret",
		SessionTTL:     time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}

	store := storage.NewFileSystemStore(t.TempDir())
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	users := &memUserStore{users: make(map[string]*database.User)}
	files := &memFileStore{files: make(map[int64]*database.File)}

	authSvc := service.NewAuthService(users)
	fileSvc := service.NewFileService(files, store,
		cfg.MaxUploadSize, cfg.MaxNameLength, cfg.AllowedExtensions)
	tracker := session.NewMemoryTracker()

	handler := NewHandler(authSvc, fileSvc, tracker, nil, cfg)
	e, err := SetupRouter(handler, cfg)
	if err != nil {
		t.Fatalf("SetupRouter: %v", err)
	}
	return e
}

func postForm(e *echo.Echo, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func getPage(e *echo.Echo, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, e *echo.Echo, username, password string) *http.Cookie {
	t.Helper()

	rec := postForm(e, "/register", url.Values{
		"username": {username}, "password": {password},
	}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("register: expected 303, got %d", rec.Code)
	}

	rec = postForm(e, "/login", url.Values{
		"username": {username}, "password": {password},
	}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/dashboard" {
		t.Fatalf("login: expected redirect to /dashboard, got %q", loc)
	}

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func uploadFile(t *testing.T, e *echo.Echo, cookie *http.Cookie, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	io.WriteString(part, content)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func listFiles(t *testing.T, e *echo.Echo, cookie *http.Cookie) []fileDTO {
	t.Helper()

	rec := getPage(e, "/api/files", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/files: expected 200, got %d", rec.Code)
	}
	var files []fileDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("failed to decode file list: %v", err)
	}
	return files
}

// --- Tests ---

func TestBrowserFlow(t *testing.T) {
	e := newTestApp(t)
	cookie := registerAndLogin(t, e, "alice", "pw123")

	t.Run("dashboard renders for signed-in user", func(t *testing.T) {
		rec := getPage(e, "/dashboard", cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "alice") {
			t.Error("dashboard should show the username")
		}
	})

	t.Run("upload redirects to dashboard and file is listed", func(t *testing.T) {
		rec := uploadFile(t, e, cookie, "report.pdf", strings.Repeat("a", 1500))
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/dashboard" {
			t.Errorf("expected redirect to /dashboard, got %q", loc)
		}

		files := listFiles(t, e, cookie)
		if len(files) != 1 {
			t.Fatalf("expected 1 file, got %d", len(files))
		}
		if files[0].Filename != "report.pdf" {
			t.Errorf("expected report.pdf, got %q", files[0].Filename)
		}
		if files[0].Size != 1500 {
			t.Errorf("expected size 1500, got %d", files[0].Size)
		}
	})

	t.Run("second upload of same name is renamed", func(t *testing.T) {
		rec := uploadFile(t, e, cookie, "report.pdf", strings.Repeat("b", 2000))
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", rec.Code)
		}

		files := listFiles(t, e, cookie)
		names := map[string]bool{}
		for _, f := range files {
			names[f.Filename] = true
		}
		if !names["report.pdf"] || !names["report (1).pdf"] {
			t.Errorf("expected both report.pdf and report (1).pdf, got %v", names)
		}
	})

	t.Run("download is public and byte-identical", func(t *testing.T) {
		files := listFiles(t, e, cookie)
		byName := map[string]fileDTO{}
		for _, f := range files {
			byName[f.Filename] = f
		}

		// No cookie: download must still work
		rec := getPage(e, "/download/"+byName["report.pdf"].DownloadID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if body := rec.Body.String(); len(body) != 1500 || body[0] != 'a' {
			t.Errorf("unexpected first file body: len=%d", len(body))
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "report.pdf") {
			t.Errorf("expected display name in Content-Disposition, got %q", cd)
		}

		rec = getPage(e, "/download/"+byName["report (1).pdf"].DownloadID, nil)
		if body := rec.Body.String(); len(body) != 2000 || body[0] != 'b' {
			t.Errorf("unexpected second file body: len=%d", len(body))
		}

		// Counter moved exactly once per successful download
		files = listFiles(t, e, cookie)
		for _, f := range files {
			if f.DownloadCount != 1 {
				t.Errorf("%s: expected download count 1, got %d", f.Filename, f.DownloadCount)
			}
		}
	})

	t.Run("unknown download id is 404", func(t *testing.T) {
		rec := getPage(e, "/download/does-not-exist", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("delete removes the file, second delete flashes an error", func(t *testing.T) {
		files := listFiles(t, e, cookie)
		target := files[0]

		rec := postForm(e, "/delete/"+strconv.FormatInt(target.ID, 10), url.Values{}, cookie)
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", rec.Code)
		}

		remaining := listFiles(t, e, cookie)
		if len(remaining) != len(files)-1 {
			t.Fatalf("expected %d files, got %d", len(files)-1, len(remaining))
		}

		// Deleting again redirects the same way; the download id is gone
		postForm(e, "/delete/"+strconv.FormatInt(target.ID, 10), url.Values{}, cookie)
		rec = getPage(e, "/download/"+target.DownloadID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rec.Code)
		}
	})

	t.Run("logout clears the session", func(t *testing.T) {
		rec := getPage(e, "/logout", cookie)
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", rec.Code)
		}
	})
}

func TestAuthBoundaries(t *testing.T) {
	e := newTestApp(t)

	t.Run("dashboard requires a session", func(t *testing.T) {
		rec := getPage(e, "/dashboard", nil)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Errorf("expected redirect to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("api files requires a session", func(t *testing.T) {
		rec := getPage(e, "/api/files", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("bad credentials bounce back to login", func(t *testing.T) {
		registerAndLogin(t, e, "bob", "pw")
		rec := postForm(e, "/login", url.Values{
			"username": {"bob"}, "password": {"wrong"},
		}, nil)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Errorf("expected bounce to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("duplicate registration bounces back to register", func(t *testing.T) {
		postForm(e, "/register", url.Values{"username": {"carol"}, "password": {"pw"}}, nil)
		rec := postForm(e, "/register", url.Values{"username": {"carol"}, "password": {"pw2"}}, nil)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/register" {
			t.Errorf("expected bounce to /register, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("users cannot delete other users' files", func(t *testing.T) {
		dave := registerAndLogin(t, e, "dave", "pw")
		uploadFile(t, e, dave, "secret.txt", "mine")
		files := listFiles(t, e, dave)

		mallory := registerAndLogin(t, e, "mallory", "pw")
		postForm(e, "/delete/"+strconv.FormatInt(files[0].ID, 10), url.Values{}, mallory)

		if len(listFiles(t, e, dave)) != 1 {
			t.Error("file must survive a delete attempt by a non-owner")
		}
	})
}

func TestAPIUpload(t *testing.T) {
	e := newTestApp(t)
	cookie := registerAndLogin(t, e, "cli", "pw")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "notes.txt")
	io.WriteString(part, "from the cli")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Filename    string `json:"filename"`
		Size        int64  `json:"size"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Filename != "notes.txt" {
		t.Errorf("expected notes.txt, got %q", result.Filename)
	}
	if result.Size != int64(len("from the cli")) {
		t.Errorf("unexpected size %d", result.Size)
	}
	if !strings.HasPrefix(result.DownloadURL, "http://test.local/download/") {
		t.Errorf("unexpected download url %q", result.DownloadURL)
	}

	t.Run("disallowed extension is rejected with JSON", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, _ := writer.CreateFormFile("file", "malware.exe")
		io.WriteString(part, "MZ")
		writer.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
		req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}
