package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/skydisk/backend/internal/services"
	"github.com/skydisk/backend/internal/storage"
	"github.com/skydisk/backend/pkg/utils"
)

func parseUUID(raw string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(raw))
}

// serviceError maps orchestrator errors onto HTTP statuses. Backend
// protocol failures surface as 502 so clients can tell them from their own
// mistakes.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEntryNotFound):
		return utils.Error(c, fiber.StatusNotFound, "entry not found")
	case errors.Is(err, services.ErrNameConflict):
		return utils.Error(c, fiber.StatusConflict, "name already exists")
	case errors.Is(err, services.ErrPermissionDenied):
		return utils.Error(c, fiber.StatusForbidden, "permission denied")
	case errors.Is(err, services.ErrIsDirectory):
		return utils.Error(c, fiber.StatusBadRequest, "entry is a directory")
	case errors.Is(err, services.ErrNotTrashed):
		return utils.Error(c, fiber.StatusBadRequest, "entry is not in trash")
	case errors.Is(err, services.ErrNotShared):
		return utils.Error(c, fiber.StatusBadRequest, "entry is not shared")
	case errors.Is(err, services.ErrInvalidName):
		return utils.Error(c, fiber.StatusBadRequest, "invalid name")
	}

	var perr *storage.ProtocolError
	if errors.As(err, &perr) {
		return utils.Error(c, fiber.StatusBadGateway, "storage backend error")
	}
	return utils.Error(c, fiber.StatusInternalServerError, "internal error")
}
