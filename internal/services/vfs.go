package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/internal/storage"
	"github.com/skydisk/backend/pkg/logger"
	"github.com/skydisk/backend/pkg/utils"
)

// BlobStore is the remote content store the orchestrator writes through.
// *storage.Client satisfies it.
type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
	Create(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Rename(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string, recursive bool) error
}

// VFSService keeps the metadata tree and the remote store in step. Every
// multi-step mutation holds the owner's lock so a remote call and its row
// update cannot interleave with another mutation for the same user.
type VFSService struct {
	DB    *gorm.DB
	Store BlobStore

	locks *ownerLocks
}

func NewVFSService(db *gorm.DB, store BlobStore) *VFSService {
	return &VFSService{DB: db, Store: store, locks: newOwnerLocks()}
}

// CreateRequest describes a new file or directory. Content is read once and
// may be nil for directories.
type CreateRequest struct {
	Kind     models.EntryKind
	Name     string
	ParentID *uuid.UUID
	Size     string
	Content  io.Reader
}

// Create uploads a file or makes a directory under the given parent (nil
// for the root). Name collisions with live siblings are resolved by
// suffixing, never by overwriting.
func (s *VFSService) Create(ctx context.Context, owner uuid.UUID, req CreateRequest) (*models.FileEntry, error) {
	name := normalizeName(req.Name)
	if name == "" || strings.Contains(name, "/") {
		return nil, ErrInvalidName
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	path := "/"
	if req.ParentID != nil {
		parent, err := s.getOwned(owner, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if !parent.IsDirectory() || parent.State != models.EntryStateActive {
			return nil, ErrEntryNotFound
		}
		path = logicalPath(parent)
	}

	name, err := s.resolveName(owner, req.ParentID, name)
	if err != nil {
		return nil, err
	}

	if err := s.ensureRemoteDir(ctx, activePhysical(owner, path)); err != nil {
		return nil, err
	}

	phys := activePhysical(owner, joinLogical(path, name))
	if req.Kind == models.EntryKindDirectory {
		err = s.Store.Mkdir(ctx, phys)
	} else {
		err = s.Store.Create(ctx, phys, req.Content)
	}
	if err != nil {
		return nil, err
	}

	entry := &models.FileEntry{
		OwnerID:  owner,
		Kind:     req.Kind,
		Name:     name,
		ParentID: req.ParentID,
		Path:     path,
		State:    models.EntryStateActive,
		Size:     req.Size,
	}
	if err := s.DB.Create(entry).Error; err != nil {
		// The object must not outlive a failed insert.
		if derr := s.Store.Delete(ctx, phys, req.Kind == models.EntryKindDirectory); derr != nil {
			logger.Error("vfs_orphan_cleanup", derr, map[string]interface{}{"path": phys})
		}
		return nil, err
	}
	return entry, nil
}

// Delete trashes a live entry, purges a trashed one, and cancels the share
// of a shared copy.
func (s *VFSService) Delete(ctx context.Context, owner, id uuid.UUID) error {
	unlock := s.locks.lock(owner)
	defer unlock()

	entry, err := s.getOwned(owner, id)
	if err != nil {
		return err
	}

	switch entry.State {
	case models.EntryStateShared:
		return s.cancelShareLocked(ctx, entry)
	case models.EntryStateTrashed:
		return s.purgeLocked(ctx, entry)
	}

	phys, err := s.physicalPath(entry)
	if err != nil {
		return err
	}
	if err := s.ensureRemoteDir(ctx, trashRoot(owner)); err != nil {
		return err
	}
	if err := s.Store.Rename(ctx, phys, trashSlot(owner, entry.ID)); err != nil {
		return err
	}

	entry.State = models.EntryStateTrashed
	return s.DB.Save(entry).Error
}

func (s *VFSService) purgeLocked(ctx context.Context, entry *models.FileEntry) error {
	if err := s.Store.Delete(ctx, trashSlot(entry.OwnerID, entry.ID), true); err != nil {
		return err
	}
	return s.deleteSubtreeRows(entry.ID)
}

// Restore puts a trashed entry back into the live tree at its recorded
// location, suffixing the name if a live sibling took it in the meantime.
// When the original parent is no longer live the entry reattaches at the
// root.
func (s *VFSService) Restore(ctx context.Context, owner, id uuid.UUID) (*models.FileEntry, error) {
	unlock := s.locks.lock(owner)
	defer unlock()

	entry, err := s.getOwned(owner, id)
	if err != nil {
		return nil, err
	}
	if entry.State != models.EntryStateTrashed {
		return nil, ErrNotTrashed
	}

	if entry.ParentID != nil {
		var parent models.FileEntry
		err := s.DB.First(&parent, "id = ?", *entry.ParentID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry.ParentID = nil
			entry.Path = "/"
		case err != nil:
			return nil, err
		case parent.State != models.EntryStateActive:
			entry.ParentID = nil
			entry.Path = "/"
		}
	}

	name, err := s.resolveName(owner, entry.ParentID, entry.Name)
	if err != nil {
		return nil, err
	}

	restored := *entry
	restored.Name = name
	restored.State = models.EntryStateActive
	target, err := s.physicalPath(&restored)
	if err != nil {
		return nil, err
	}
	parentPhys, _ := splitLogical(target)
	if err := s.ensureRemoteDir(ctx, parentPhys); err != nil {
		return nil, err
	}
	if err := s.Store.Rename(ctx, trashSlot(owner, entry.ID), target); err != nil {
		return nil, err
	}

	*entry = restored
	if err := s.DB.Save(entry).Error; err != nil {
		return nil, err
	}
	if entry.IsDirectory() {
		if err := s.rewriteChildPaths(entry.ID, logicalPath(entry)); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Rename gives a live entry a new name within its parent. Unlike Create,
// an occupied name is rejected rather than suffixed.
func (s *VFSService) Rename(ctx context.Context, owner, id uuid.UUID, newName string) (*models.FileEntry, error) {
	newName = normalizeName(newName)
	if newName == "" || strings.Contains(newName, "/") {
		return nil, ErrInvalidName
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	entry, err := s.getOwned(owner, id)
	if err != nil {
		return nil, err
	}
	if entry.State != models.EntryStateActive {
		return nil, ErrEntryNotFound
	}
	if newName == entry.Name {
		return entry, nil
	}

	taken, err := s.activeNameTaken(owner, entry.ParentID, newName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameConflict
	}

	oldPhys, err := s.physicalPath(entry)
	if err != nil {
		return nil, err
	}
	renamed := *entry
	renamed.Name = newName
	newPhys, err := s.physicalPath(&renamed)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Rename(ctx, oldPhys, newPhys); err != nil {
		return nil, err
	}

	*entry = renamed
	if err := s.DB.Save(entry).Error; err != nil {
		return nil, err
	}
	if entry.IsDirectory() {
		if err := s.rewriteChildPaths(entry.ID, logicalPath(entry)); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Move relocates a live entry under the directory at destPath ("/" for the
// root). The destination must exist, must not already hold the name, and a
// directory cannot move into its own subtree.
func (s *VFSService) Move(ctx context.Context, owner, id uuid.UUID, destPath string) (*models.FileEntry, error) {
	if destPath == "" || !strings.HasPrefix(destPath, "/") {
		return nil, ErrInvalidName
	}
	destPath = strings.TrimRight(destPath, "/")
	if destPath == "" {
		destPath = "/"
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	entry, err := s.getOwned(owner, id)
	if err != nil {
		return nil, err
	}
	if entry.State != models.EntryStateActive {
		return nil, ErrEntryNotFound
	}

	destDir, err := s.resolveDir(owner, destPath)
	if err != nil {
		return nil, err
	}
	var destParentID *uuid.UUID
	if destDir != nil {
		if destDir.ID == entry.ID {
			return nil, ErrInvalidName
		}
		if entry.IsDirectory() {
			inside, err := s.isDescendant(destDir, entry.ID)
			if err != nil {
				return nil, err
			}
			if inside {
				return nil, ErrInvalidName
			}
		}
		destParentID = &destDir.ID
		destPath = logicalPath(destDir)
	}

	if entry.Path == destPath {
		return entry, nil
	}

	taken, err := s.activeNameTaken(owner, destParentID, entry.Name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameConflict
	}

	oldPhys, err := s.physicalPath(entry)
	if err != nil {
		return nil, err
	}
	moved := *entry
	moved.ParentID = destParentID
	moved.Path = destPath
	newPhys, err := s.physicalPath(&moved)
	if err != nil {
		return nil, err
	}
	parentPhys, _ := splitLogical(newPhys)
	if err := s.ensureRemoteDir(ctx, parentPhys); err != nil {
		return nil, err
	}
	if err := s.Store.Rename(ctx, oldPhys, newPhys); err != nil {
		return nil, err
	}

	*entry = moved
	if err := s.DB.Save(entry).Error; err != nil {
		return nil, err
	}
	if entry.IsDirectory() {
		if err := s.rewriteChildPaths(entry.ID, logicalPath(entry)); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Content opens a file's bytes. Shared copies are readable by anyone who
// reached them through a share key; everything else requires ownership.
func (s *VFSService) Content(ctx context.Context, requester, id uuid.UUID) (io.ReadCloser, *models.FileEntry, error) {
	var entry models.FileEntry
	if err := s.DB.First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrEntryNotFound
		}
		return nil, nil, err
	}
	if entry.State != models.EntryStateShared && entry.OwnerID != requester {
		return nil, nil, ErrPermissionDenied
	}
	if entry.IsDirectory() {
		return nil, nil, ErrIsDirectory
	}

	phys, err := s.physicalPath(&entry)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.Store.Open(ctx, phys)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrEntryNotFound
		}
		return nil, nil, err
	}
	return rc, &entry, nil
}

// Get loads a single entry with an ownership check.
func (s *VFSService) Get(owner, id uuid.UUID) (*models.FileEntry, error) {
	return s.getOwned(owner, id)
}

type ListScope string

const (
	ListScopeActive ListScope = "active"
	ListScopeTrash  ListScope = "trash"
	ListScopeShare  ListScope = "share"
)

// ListFilter narrows and orders a listing. Path only applies to the active
// scope; trash and share scopes are flat.
type ListFilter struct {
	Scope        ListScope
	Path         string
	Kind         *models.EntryKind
	Name         string
	ExcludeNames []string
	SortBy       string
	SortOrder    string
	Page         int
	Limit        int
}

var sortColumns = map[string]string{
	"name":      "name",
	"size":      "size",
	"createdAt": "created_at",
}

// List returns one page of entries plus the unpaginated total. Directories
// sort before files regardless of the requested order.
func (s *VFSService) List(owner uuid.UUID, f ListFilter) ([]models.FileEntry, int64, error) {
	q := s.DB.Model(&models.FileEntry{}).Where("owner_id = ?", owner)

	switch f.Scope {
	case ListScopeTrash:
		q = q.Where("state = ?", models.EntryStateTrashed)
	case ListScopeShare:
		q = q.Where("state = ?", models.EntryStateShared)
	default:
		path := f.Path
		if path == "" {
			path = "/"
		}
		dir, err := s.resolveDir(owner, path)
		if err != nil {
			return nil, 0, err
		}
		q = q.Where("state = ?", models.EntryStateActive)
		q = scopeParent(q, dirID(dir))
	}

	if f.Kind != nil {
		q = q.Where("kind = ?", *f.Kind)
	}
	if f.Name != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(f.Name)+"%")
	}
	for _, prefix := range f.ExcludeNames {
		if prefix == "" {
			continue
		}
		q = q.Where("name NOT LIKE ?", prefix+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if col, ok := sortColumns[f.SortBy]; ok {
		dir := "ASC"
		if strings.EqualFold(f.SortOrder, "desc") {
			dir = "DESC"
		}
		order = col + " " + dir
	}
	q = q.Order("kind ASC").Order(order)

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var entries []models.FileEntry
	paged := utils.ApplyPagination(q, utils.PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err := paged.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func dirID(dir *models.FileEntry) *uuid.UUID {
	if dir == nil {
		return nil
	}
	return &dir.ID
}

func (s *VFSService) getOwned(owner, id uuid.UUID) (*models.FileEntry, error) {
	var entry models.FileEntry
	if err := s.DB.First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if entry.OwnerID != owner {
		return nil, ErrPermissionDenied
	}
	return &entry, nil
}

func scopeParent(q *gorm.DB, parentID *uuid.UUID) *gorm.DB {
	if parentID == nil {
		return q.Where("parent_id IS NULL")
	}
	return q.Where("parent_id = ?", *parentID)
}

func (s *VFSService) activeNameTaken(owner uuid.UUID, parentID *uuid.UUID, name string) (bool, error) {
	var count int64
	q := s.DB.Model(&models.FileEntry{}).
		Where("owner_id = ? AND name = ? AND state = ?", owner, name, models.EntryStateActive)
	if err := scopeParent(q, parentID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// resolveName returns name, or its first free "(n)" variant when a live
// sibling already uses it.
func (s *VFSService) resolveName(owner uuid.UUID, parentID *uuid.UUID, name string) (string, error) {
	candidate := name
	for n := 1; ; n++ {
		taken, err := s.activeNameTaken(owner, parentID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = suffixName(name, n)
	}
}

// resolveDir walks a logical path segment by segment to its directory
// entry. The root has no row and resolves to nil.
func (s *VFSService) resolveDir(owner uuid.UUID, path string) (*models.FileEntry, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	var dir *models.FileEntry
	var parentID *uuid.UUID
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			return nil, ErrEntryNotFound
		}
		var entry models.FileEntry
		q := s.DB.Where("owner_id = ? AND name = ? AND kind = ? AND state = ?",
			owner, seg, models.EntryKindDirectory, models.EntryStateActive)
		if err := scopeParent(q, parentID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrEntryNotFound
			}
			return nil, err
		}
		dir = &entry
		parentID = &entry.ID
	}
	return dir, nil
}

func logicalPath(e *models.FileEntry) string {
	return joinLogical(e.Path, e.Name)
}

// physicalPath maps an entry to its remote object path. A live entry that
// descends from a trashed root resolves through that root's trash slot,
// since trashing moves the whole subtree in one remote rename.
func (s *VFSService) physicalPath(e *models.FileEntry) (string, error) {
	switch e.State {
	case models.EntryStateShared:
		return sharedPhysical(e), nil
	case models.EntryStateTrashed:
		return trashSlot(e.OwnerID, e.ID), nil
	}

	root, err := s.trashedAncestor(e)
	if err != nil {
		return "", err
	}
	if root != nil {
		rel := strings.TrimPrefix(logicalPath(e), logicalPath(root))
		return trashSlot(e.OwnerID, root.ID) + rel, nil
	}
	return activePhysical(e.OwnerID, logicalPath(e)), nil
}

func (s *VFSService) trashedAncestor(e *models.FileEntry) (*models.FileEntry, error) {
	parentID := e.ParentID
	for parentID != nil {
		var parent models.FileEntry
		if err := s.DB.First(&parent, "id = ?", *parentID).Error; err != nil {
			return nil, err
		}
		if parent.State == models.EntryStateTrashed {
			return &parent, nil
		}
		parentID = parent.ParentID
	}
	return nil, nil
}

func (s *VFSService) isDescendant(e *models.FileEntry, ancestorID uuid.UUID) (bool, error) {
	parentID := e.ParentID
	for parentID != nil {
		if *parentID == ancestorID {
			return true, nil
		}
		var parent models.FileEntry
		if err := s.DB.First(&parent, "id = ?", *parentID).Error; err != nil {
			return false, err
		}
		parentID = parent.ParentID
	}
	return false, nil
}

// rewriteChildPaths refreshes the materialized Path of a directory's
// subtree after the directory's own logical path changed.
func (s *VFSService) rewriteChildPaths(parentID uuid.UUID, parentLogical string) error {
	var children []models.FileEntry
	if err := s.DB.Where("parent_id = ?", parentID).Find(&children).Error; err != nil {
		return err
	}
	for i := range children {
		child := &children[i]
		if err := s.DB.Model(child).Update("path", parentLogical).Error; err != nil {
			return err
		}
		if child.IsDirectory() {
			if err := s.rewriteChildPaths(child.ID, joinLogical(parentLogical, child.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *VFSService) deleteSubtreeRows(rootID uuid.UUID) error {
	ids := []uuid.UUID{rootID}
	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		var children []models.FileEntry
		if err := s.DB.Select("id").Where("parent_id IN ?", frontier).Find(&children).Error; err != nil {
			return err
		}
		frontier = frontier[:0]
		for _, c := range children {
			frontier = append(frontier, c.ID)
		}
		ids = append(ids, frontier...)
	}
	return s.DB.Delete(&models.FileEntry{}, "id IN ?", ids).Error
}

func (s *VFSService) ensureRemoteDir(ctx context.Context, path string) error {
	ok, err := s.Store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.Store.Mkdir(ctx, path)
}
