package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/skydisk/backend/internal/database"
	"github.com/skydisk/backend/internal/middleware"
	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/internal/services"
	"github.com/skydisk/backend/internal/storage"
	"github.com/skydisk/backend/pkg/logger"
	"github.com/skydisk/backend/pkg/utils"
)

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	store *memStore
}

var testSetupOnce sync.Once

// memStore is a minimal in-memory stand-in for the WebHDFS client.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte), dirs: map[string]bool{"/": true}}
}

func (m *memStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, isFile := m.files[path]
	return isFile || m.dirs[path], nil
}

func (m *memStore) Mkdir(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := path; p != "" && p != "/"; {
		m.dirs[p] = true
		if i := strings.LastIndex(p, "/"); i > 0 {
			p = p[:i]
		} else {
			break
		}
	}
	return nil
}

func (m *memStore) Create(_ context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	return nil
}

func (m *memStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Rename(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.files[src]; ok {
		delete(m.files, src)
		m.files[dst] = data
		return nil
	}
	if !m.dirs[src] {
		return fmt.Errorf("rename source %s does not exist", src)
	}
	delete(m.dirs, src)
	m.dirs[dst] = true
	for p := range m.dirs {
		if strings.HasPrefix(p, src+"/") {
			delete(m.dirs, p)
			m.dirs[dst+strings.TrimPrefix(p, src)] = true
		}
	}
	for p, data := range m.files {
		if strings.HasPrefix(p, src+"/") {
			delete(m.files, p)
			m.files[dst+strings.TrimPrefix(p, src)] = data
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, path string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		return nil
	}
	if !m.dirs[path] {
		return fmt.Errorf("delete target %s does not exist", path)
	}
	delete(m.dirs, path)
	if recursive {
		for p := range m.dirs {
			if strings.HasPrefix(p, path+"/") {
				delete(m.dirs, p)
			}
		}
		for p := range m.files {
			if strings.HasPrefix(p, path+"/") {
				delete(m.files, p)
			}
		}
	}
	return nil
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	store := newMemStore()
	vfs := services.NewVFSService(db, store)

	authHandler := NewAuthHandler(db)
	filesHandler := NewFilesHandler(vfs)
	sharesHandler := NewSharesHandler(vfs)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Post("/directory", filesHandler.Mkdir)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Post("/share", sharesHandler.Create)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Put("/:id/rename", filesHandler.Rename)
	fileRoutes.Put("/:id/move", filesHandler.Move)
	fileRoutes.Post("/:id/restore", filesHandler.Restore)
	fileRoutes.Post("/:id/share", sharesHandler.CreateOne)
	fileRoutes.Delete("/:id/share", sharesHandler.Cancel)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	adminRoutes := api.Group("/admin", authMiddleware.RequireAuth, middleware.AdminOnly)
	adminRoutes.Get("/users", authHandler.ListUsers)

	shareRoutes := api.Group("/shares")
	shareRoutes.Get("/:key", authMiddleware.OptionalAuth, sharesHandler.List)
	shareRoutes.Get("/:key/files/:id/download", authMiddleware.OptionalAuth, sharesHandler.Download)
	shareRoutes.Post("/:key/save", authMiddleware.RequireAuth, sharesHandler.Save)

	return &testEnv{app: app, db: db, store: store}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// uploadFile posts a multipart upload and returns the decoded entry data.
func uploadFile(t *testing.T, env *testEnv, token, parentID, filename, content string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if parentID != "" {
		if err := writer.WriteField("parentID", parentID); err != nil {
			t.Fatalf("failed writing parentID field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	headers := authHeaders(token)
	headers["Content-Type"] = writer.FormDataContentType()

	resp := performRequest(t, env.app, http.MethodPost, "/api/files/upload", &buf, headers)
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))
}

func mkdirEntry(t *testing.T, env *testEnv, token, parentID, name string) map[string]any {
	t.Helper()

	payload := map[string]any{"name": name}
	if parentID != "" {
		payload["parentID"] = parentID
	}
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/directory", payload, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}
	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object in envelope, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array in envelope, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
