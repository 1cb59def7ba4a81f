package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"flowboard/internal/database"
	"flowboard/internal/services"
)

// HealthHandler reports service liveness plus connection counts.
type HealthHandler struct {
	connManager *services.ConnectionManager
	mongodb     *database.MongoDB
	archive     *services.ArchiveService
	startedAt   time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, mongodb *database.MongoDB, archive *services.ArchiveService) *HealthHandler {
	return &HealthHandler{
		connManager: connManager,
		mongodb:     mongodb,
		archive:     archive,
		startedAt:   time.Now(),
	}
}

// Handle serves GET /health.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "ok"
	mongoStatus := "ok"
	if err := h.mongodb.Ping(c.Context()); err != nil {
		status = "degraded"
		mongoStatus = err.Error()
	}

	return c.JSON(fiber.Map{
		"status":             status,
		"mongo":              mongoStatus,
		"connections":        h.connManager.Count(),
		"open_boards":        h.connManager.ProjectCount(),
		"next_archive_sweep": h.archive.NextRun().UTC().Format(time.RFC3339),
		"uptime_seconds":     int(time.Since(h.startedAt).Seconds()),
	})
}
