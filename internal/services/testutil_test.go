package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skydisk/backend/internal/database"
	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/internal/storage"
)

// fakeStore is an in-memory BlobStore with the semantics the orchestrator
// relies on: recursive rename, parent creation on mkdir and create, and
// storage.ErrNotFound on missing opens.
type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	failCreate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

func (f *fakeStore) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, isFile := f.files[path]
	return isFile || f.dirs[path], nil
}

func (f *fakeStore) Mkdir(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(path)
	return nil
}

func (f *fakeStore) mkdirAll(path string) {
	for p := path; p != "" && p != "/"; p, _ = splitLogical(p) {
		f.dirs[p] = true
	}
}

func (f *fakeStore) Create(_ context.Context, path string, r io.Reader) error {
	if f.failCreate {
		return fmt.Errorf("create refused")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, _ := splitLogical(path)
	f.mkdirAll(dir)
	f.files[path] = data
	return nil
}

func (f *fakeStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Rename(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if data, ok := f.files[src]; ok {
		delete(f.files, src)
		f.files[dst] = data
		return nil
	}
	if !f.dirs[src] {
		return fmt.Errorf("rename source %s does not exist", src)
	}

	delete(f.dirs, src)
	f.dirs[dst] = true
	for p := range f.dirs {
		if strings.HasPrefix(p, src+"/") {
			delete(f.dirs, p)
			f.dirs[dst+strings.TrimPrefix(p, src)] = true
		}
	}
	for p, data := range f.files {
		if strings.HasPrefix(p, src+"/") {
			delete(f.files, p)
			f.files[dst+strings.TrimPrefix(p, src)] = data
		}
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, path string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[path]; ok {
		delete(f.files, path)
		return nil
	}
	if !f.dirs[path] {
		return fmt.Errorf("delete target %s does not exist", path)
	}

	delete(f.dirs, path)
	for p := range f.dirs {
		if strings.HasPrefix(p, path+"/") {
			if !recursive {
				return fmt.Errorf("directory %s is not empty", path)
			}
			delete(f.dirs, p)
		}
	}
	for p := range f.files {
		if strings.HasPrefix(p, path+"/") {
			if !recursive {
				return fmt.Errorf("directory %s is not empty", path)
			}
			delete(f.files, p)
		}
	}
	return nil
}

func (f *fakeStore) hasFile(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *fakeStore) hasDir(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path]
}

func (f *fakeStore) filesUnder(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for p := range f.files {
		if strings.HasPrefix(p, prefix+"/") {
			n++
		}
	}
	return n
}

func (f *fakeStore) contents(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.files[path])
}

func setupVFS(t *testing.T) (*VFSService, *fakeStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))

	store := newFakeStore()
	return NewVFSService(db, store), store
}

func newOwner(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()

	user := &models.User{
		Email:        uuid.New().String() + "@example.com",
		PasswordHash: "irrelevant",
		Role:         models.UserRoleUser,
	}
	require.NoError(t, db.Create(user).Error)
	return user.ID
}

func mustUpload(t *testing.T, s *VFSService, owner uuid.UUID, parentID *uuid.UUID, name, content string) *models.FileEntry {
	t.Helper()

	entry, err := s.Create(context.Background(), owner, CreateRequest{
		Kind:     models.EntryKindFile,
		Name:     name,
		ParentID: parentID,
		Size:     fmt.Sprintf("%d", len(content)),
		Content:  strings.NewReader(content),
	})
	require.NoError(t, err)
	return entry
}

func mustMkdir(t *testing.T, s *VFSService, owner uuid.UUID, parentID *uuid.UUID, name string) *models.FileEntry {
	t.Helper()

	entry, err := s.Create(context.Background(), owner, CreateRequest{
		Kind:     models.EntryKindDirectory,
		Name:     name,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return entry
}
