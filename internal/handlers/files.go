package handlers

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/skydisk/backend/internal/middleware"
	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/internal/services"
	"github.com/skydisk/backend/pkg/logger"
	"github.com/skydisk/backend/pkg/utils"
)

type FilesHandler struct {
	VFS *services.VFSService
}

func NewFilesHandler(vfs *services.VFSService) *FilesHandler {
	return &FilesHandler{VFS: vfs}
}

// Upload stores a multipart file under the optional parentID directory.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	var parentID *uuid.UUID
	if raw := strings.TrimSpace(c.FormValue("parentID")); raw != "" {
		parsed, parseErr := parseUUID(raw)
		if parseErr != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
		}
		parentID = &parsed
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))
	if filename == "" || filename == "." {
		return utils.Error(c, fiber.StatusBadRequest, "invalid filename")
	}

	entry, err := h.VFS.Create(c.Context(), currentUser.ID, services.CreateRequest{
		Kind:     models.EntryKindFile,
		Name:     filename,
		ParentID: parentID,
		Size:     strconv.FormatInt(fileHeader.Size, 10),
		Content:  stream,
	})
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_uploaded", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"name":     entry.Name,
		"size":     entry.Size,
	})
	return utils.Success(c, fiber.StatusCreated, entry)
}

type mkdirRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentID"`
}

func (h *FilesHandler) Mkdir(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req mkdirRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var parentID *uuid.UUID
	if raw := strings.TrimSpace(req.ParentID); raw != "" {
		parsed, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
		}
		parentID = &parsed
	}

	entry, err := h.VFS.Create(c.Context(), currentUser.ID, services.CreateRequest{
		Kind:     models.EntryKindDirectory,
		Name:     req.Name,
		ParentID: parentID,
	})
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "directory_created", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"name":     entry.Name,
	})
	return utils.Success(c, fiber.StatusCreated, entry)
}

// List returns one page of the requested scope: "active" (default, per
// directory via ?path=), "trash" or "share".
func (h *FilesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	pagination := utils.ParsePagination(c)
	filter := services.ListFilter{
		Scope:     services.ListScope(c.Query("scope", string(services.ListScopeActive))),
		Path:      c.Query("path", "/"),
		Name:      strings.TrimSpace(c.Query("name")),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("order"),
		Page:      pagination.Page,
		Limit:     pagination.Limit,
	}
	if raw := c.Query("exclude"); raw != "" {
		filter.ExcludeNames = strings.Split(raw, ",")
	}
	if raw := c.Query("kind"); raw != "" {
		kind := models.EntryKind(raw)
		if kind != models.EntryKindFile && kind != models.EntryKindDirectory {
			return utils.Error(c, fiber.StatusBadRequest, "invalid kind")
		}
		filter.Kind = &kind
	}

	entries, total, err := h.VFS.List(currentUser.ID, filter)
	if err != nil {
		return serviceError(c, err)
	}
	return utils.Paginated(c, entries, filter.Page, filter.Limit, total)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	entry, err := h.VFS.Get(currentUser.ID, id)
	if err != nil {
		return serviceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, entry)
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	rc, entry, err := h.VFS.Content(c.Context(), currentUser.ID, id)
	if err != nil {
		return serviceError(c, err)
	}

	return streamEntry(c, rc, entry)
}

// streamEntry sends a file body with download headers. The leaf of a
// shared row's relative name is used as the attachment filename.
func streamEntry(c *fiber.Ctx, rc io.ReadCloser, entry *models.FileEntry) error {
	name := entry.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.SendStream(rc)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *FilesHandler) Rename(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	var req renameRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.VFS.Rename(c.Context(), currentUser.ID, id, req.Name)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "entry_renamed", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"name":     entry.Name,
	})
	return utils.Success(c, fiber.StatusOK, entry)
}

type moveRequest struct {
	Path string `json:"path"`
}

func (h *FilesHandler) Move(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.VFS.Move(c.Context(), currentUser.ID, id, req.Path)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "entry_moved", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"path":     entry.Path,
	})
	return utils.Success(c, fiber.StatusOK, entry)
}

// Delete trashes a live entry and permanently removes a trashed one.
func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	if err := h.VFS.Delete(c.Context(), currentUser.ID, id); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "entry_deleted", map[string]interface{}{
		"entry_id": id.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

func (h *FilesHandler) Restore(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	entry, err := h.VFS.Restore(c.Context(), currentUser.ID, id)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "entry_restored", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"name":     entry.Name,
	})
	return utils.Success(c, fiber.StatusOK, entry)
}
