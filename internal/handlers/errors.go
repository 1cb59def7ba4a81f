package handlers

import (
	"github.com/gofiber/fiber/v2"

	"flowboard/internal/board"
)

// statusForKind maps board error kinds onto HTTP statuses.
func statusForKind(kind board.Kind) int {
	switch kind {
	case board.KindNotFound:
		return fiber.StatusNotFound
	case board.KindStale:
		return fiber.StatusConflict
	case board.KindValidationFailed:
		return fiber.StatusBadRequest
	case board.KindUnauthorized:
		return fiber.StatusForbidden
	case board.KindPersistenceFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes a classified board error; unclassified errors
// become opaque 500s so internals never leak.
func respondError(c *fiber.Ctx, err error) error {
	kind := board.KindOf(err)
	if kind == board.KindUnknown {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	return c.Status(statusForKind(kind)).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}
