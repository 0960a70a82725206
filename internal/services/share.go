package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/pkg/logger"
)

// shareKeyLen is the number of uuid characters kept as the share key.
const shareKeyLen = 8

// Share publishes live entries under a fresh share key. Each entry is
// physically copied into the owner's share directory, directories
// recursively, and one shared row is recorded per copied object. The
// originals are untouched. On any failure the half-built share is rolled
// back on both sides.
func (s *VFSService) Share(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) (string, error) {
	if len(ids) == 0 {
		return "", ErrEntryNotFound
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	key := uuid.New().String()[:shareKeyLen]
	dir := shareDir(owner, key)
	if err := s.ensureRemoteDir(ctx, shareRoot(owner)); err != nil {
		return "", err
	}
	if err := s.Store.Mkdir(ctx, dir); err != nil {
		return "", err
	}

	var created []uuid.UUID
	fail := func(err error) (string, error) {
		if derr := s.Store.Delete(ctx, dir, true); derr != nil {
			logger.Error("share_rollback", derr, map[string]interface{}{"key": key})
		}
		if len(created) > 0 {
			if derr := s.DB.Delete(&models.FileEntry{}, "id IN ?", created).Error; derr != nil {
				logger.Error("share_rollback", derr, map[string]interface{}{"key": key})
			}
		}
		return "", err
	}

	for _, id := range ids {
		entry, err := s.getOwned(owner, id)
		if err != nil {
			return fail(err)
		}
		if entry.State != models.EntryStateActive {
			return fail(ErrEntryNotFound)
		}
		if err := s.shareEntry(ctx, entry, key, dir, entry.Name, &created); err != nil {
			return fail(err)
		}
	}
	return key, nil
}

// shareEntry copies one entry into the share directory at the given
// relative path, recursing into directories. The shared rows are flat:
// Name carries the share-relative path.
func (s *VFSService) shareEntry(ctx context.Context, entry *models.FileEntry, key, dir, rel string, created *[]uuid.UUID) error {
	dst := dir + "/" + rel
	if entry.IsDirectory() {
		if err := s.Store.Mkdir(ctx, dst); err != nil {
			return err
		}
	} else {
		phys, err := s.physicalPath(entry)
		if err != nil {
			return err
		}
		if err := s.copyObject(ctx, phys, dst); err != nil {
			return err
		}
	}

	row := &models.FileEntry{
		OwnerID:  entry.OwnerID,
		Kind:     entry.Kind,
		Name:     rel,
		Path:     "/",
		State:    models.EntryStateShared,
		ShareKey: &key,
		Size:     entry.Size,
	}
	if err := s.DB.Create(row).Error; err != nil {
		return err
	}
	*created = append(*created, row.ID)

	if entry.IsDirectory() {
		var children []models.FileEntry
		if err := s.DB.Where("parent_id = ? AND state = ?", entry.ID, models.EntryStateActive).
			Find(&children).Error; err != nil {
			return err
		}
		for i := range children {
			if err := s.shareEntry(ctx, &children[i], key, dir, rel+"/"+children[i].Name, created); err != nil {
				return err
			}
		}
	}
	return nil
}

// SharedEntries lists the copies published under a share key. There is no
// ownership check: the key is the capability.
func (s *VFSService) SharedEntries(key string) ([]models.FileEntry, error) {
	var entries []models.FileEntry
	err := s.DB.Where("share_key = ? AND state = ?", key, models.EntryStateShared).
		Order("name ASC").Find(&entries).Error
	return entries, err
}

// CancelShare removes a shared copy from the share, deleting its remote
// objects and metadata rows. The original entries are not affected.
func (s *VFSService) CancelShare(ctx context.Context, owner, id uuid.UUID) error {
	unlock := s.locks.lock(owner)
	defer unlock()

	entry, err := s.getOwned(owner, id)
	if err != nil {
		return err
	}
	return s.cancelShareLocked(ctx, entry)
}

func (s *VFSService) cancelShareLocked(ctx context.Context, entry *models.FileEntry) error {
	if entry.State != models.EntryStateShared || entry.ShareKey == nil {
		return ErrNotShared
	}
	if err := s.Store.Delete(ctx, sharedPhysical(entry), entry.IsDirectory()); err != nil {
		return err
	}
	return s.DB.
		Where("owner_id = ? AND share_key = ?", entry.OwnerID, *entry.ShareKey).
		Where("name = ? OR name LIKE ?", entry.Name, entry.Name+"/%").
		Delete(&models.FileEntry{}).Error
}

// SaveShared copies shared entries into the requester's own tree at
// destPath. The copies become ordinary live entries with no tie to the
// share; names are suffixed on collision like any upload.
func (s *VFSService) SaveShared(ctx context.Context, requester uuid.UUID, key, destPath string, ids []uuid.UUID) ([]models.FileEntry, error) {
	if destPath == "" {
		destPath = "/"
	}

	unlock := s.locks.lock(requester)
	defer unlock()

	destDir, err := s.resolveDir(requester, destPath)
	if err != nil {
		return nil, err
	}
	destParentID := dirID(destDir)
	if destDir != nil {
		destPath = logicalPath(destDir)
	} else {
		destPath = "/"
	}
	if err := s.ensureRemoteDir(ctx, activePhysical(requester, destPath)); err != nil {
		return nil, err
	}

	var saved []models.FileEntry
	for _, id := range ids {
		var src models.FileEntry
		if err := s.DB.First(&src, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrEntryNotFound
			}
			return nil, err
		}
		if src.State != models.EntryStateShared || src.ShareKey == nil || *src.ShareKey != key {
			return nil, ErrNotShared
		}
		entry, err := s.saveSharedEntry(ctx, requester, &src, destParentID, destPath)
		if err != nil {
			return nil, err
		}
		saved = append(saved, *entry)
	}
	return saved, nil
}

func (s *VFSService) saveSharedEntry(ctx context.Context, owner uuid.UUID, src *models.FileEntry, parentID *uuid.UUID, path string) (*models.FileEntry, error) {
	_, leaf := splitLogical("/" + src.Name)
	name, err := s.resolveName(owner, parentID, leaf)
	if err != nil {
		return nil, err
	}

	dst := activePhysical(owner, joinLogical(path, name))
	if src.IsDirectory() {
		if err := s.Store.Mkdir(ctx, dst); err != nil {
			return nil, err
		}
	} else {
		if err := s.copyObject(ctx, sharedPhysical(src), dst); err != nil {
			return nil, err
		}
	}

	root := &models.FileEntry{
		OwnerID:  owner,
		Kind:     src.Kind,
		Name:     name,
		ParentID: parentID,
		Path:     path,
		State:    models.EntryStateActive,
		Size:     src.Size,
	}
	if err := s.DB.Create(root).Error; err != nil {
		if derr := s.Store.Delete(ctx, dst, src.IsDirectory()); derr != nil {
			logger.Error("save_shared_cleanup", derr, map[string]interface{}{"path": dst})
		}
		return nil, err
	}

	if !src.IsDirectory() {
		return root, nil
	}

	// Descendant rows sort so that a directory precedes its contents.
	var rows []models.FileEntry
	if err := s.DB.
		Where("owner_id = ? AND share_key = ? AND name LIKE ?", src.OwnerID, *src.ShareKey, src.Name+"/%").
		Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	dirs := map[string]*models.FileEntry{src.Name: root}
	for i := range rows {
		row := &rows[i]
		relDir, leaf := splitLogical("/" + row.Name)
		parent, ok := dirs[strings.TrimPrefix(relDir, "/")]
		if !ok {
			continue
		}
		child := &models.FileEntry{
			OwnerID:  owner,
			Kind:     row.Kind,
			Name:     leaf,
			ParentID: &parent.ID,
			Path:     logicalPath(parent),
			State:    models.EntryStateActive,
			Size:     row.Size,
		}
		cdst := activePhysical(owner, joinLogical(child.Path, leaf))
		if row.IsDirectory() {
			if err := s.Store.Mkdir(ctx, cdst); err != nil {
				return nil, err
			}
		} else {
			if err := s.copyObject(ctx, sharedPhysical(row), cdst); err != nil {
				return nil, err
			}
		}
		if err := s.DB.Create(child).Error; err != nil {
			return nil, err
		}
		if row.IsDirectory() {
			dirs[row.Name] = child
		}
	}
	return root, nil
}

func (s *VFSService) copyObject(ctx context.Context, src, dst string) error {
	rc, err := s.Store.Open(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return s.Store.Create(ctx, dst, rc)
}
