package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/skydisk/backend/internal/middleware"
	"github.com/skydisk/backend/internal/services"
	"github.com/skydisk/backend/pkg/logger"
	"github.com/skydisk/backend/pkg/utils"
)

type SharesHandler struct {
	VFS *services.VFSService
}

func NewSharesHandler(vfs *services.VFSService) *SharesHandler {
	return &SharesHandler{VFS: vfs}
}

type shareRequest struct {
	IDs []string `json:"ids"`
}

// Create publishes one or more live entries under a fresh share key.
func (h *SharesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req shareRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	ids, err := parseUUIDs(req.IDs)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}
	if len(ids) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "ids are required")
	}

	key, err := h.VFS.Share(c.Context(), currentUser.ID, ids)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_created", map[string]interface{}{
		"key":   key,
		"count": len(ids),
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"key": key})
}

// CreateOne shares a single entry by path parameter.
func (h *SharesHandler) CreateOne(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	key, err := h.VFS.Share(c.Context(), currentUser.ID, []uuid.UUID{id})
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_created", map[string]interface{}{
		"key": key,
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"key": key})
}

// List returns the entries published under a share key. No login needed:
// knowing the key grants read access.
func (h *SharesHandler) List(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return utils.Error(c, fiber.StatusBadRequest, "invalid share key")
	}

	entries, err := h.VFS.SharedEntries(key)
	if err != nil {
		return serviceError(c, err)
	}
	if len(entries) == 0 {
		return utils.Error(c, fiber.StatusNotFound, "share not found")
	}
	return utils.Success(c, fiber.StatusOK, entries)
}

// Download streams one shared file. The entry must belong to the key in
// the URL, so one share key never exposes another share's content.
func (h *SharesHandler) Download(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	requester := uuid.Nil
	if user := middleware.GetCurrentUser(c); user != nil {
		requester = user.ID
	}

	rc, entry, err := h.VFS.Content(c.Context(), requester, id)
	if err != nil {
		return serviceError(c, err)
	}
	if entry.ShareKey == nil || *entry.ShareKey != key {
		rc.Close()
		return utils.Error(c, fiber.StatusNotFound, "entry not found")
	}

	return streamEntry(c, rc, entry)
}

type saveSharedRequest struct {
	IDs  []string `json:"ids"`
	Path string   `json:"path"`
}

// Save copies shared entries into the caller's own tree.
func (h *SharesHandler) Save(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	key := strings.TrimSpace(c.Params("key"))
	var req saveSharedRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	ids, err := parseUUIDs(req.IDs)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}
	if len(ids) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "ids are required")
	}

	saved, err := h.VFS.SaveShared(c.Context(), currentUser.ID, key, req.Path, ids)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_saved", map[string]interface{}{
		"key":   key,
		"count": len(saved),
	})
	return utils.Success(c, fiber.StatusCreated, saved)
}

// Cancel withdraws one shared copy from its share.
func (h *SharesHandler) Cancel(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid id")
	}

	if err := h.VFS.CancelShare(c.Context(), currentUser.ID, id); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_cancelled", map[string]interface{}{
		"entry_id": id.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"cancelled": true})
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := parseUUID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
