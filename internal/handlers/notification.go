package handlers

import (
	"github.com/gofiber/fiber/v2"

	"flowboard/internal/services"
)

// NotificationHandler serves the user's notification inbox.
type NotificationHandler struct {
	notifications *services.NotificationStore
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications *services.NotificationStore) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the caller's notifications, newest first.
// GET /api/notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	unreadOnly := c.QueryBool("unread", false)
	limit := int64(c.QueryInt("limit", 50))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	items, err := h.notifications.ListForUser(c.Context(), userID, unreadOnly, limit)
	if err != nil {
		return respondError(c, err)
	}
	unread, err := h.notifications.CountUnread(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": items,
		"unread_count":  unread,
	})
}

// MarkRead marks one notification read. One-way: there is no unread-again.
// POST /api/notifications/:notificationId/read
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	if err := h.notifications.MarkRead(c.Context(), userID, c.Params("notificationId")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"read": true})
}

// MarkAllRead marks every unread notification read.
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	updated, err := h.notifications.MarkAllRead(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": updated})
}
