package handlers

import (
	"github.com/gofiber/fiber/v2"

	"flowboard/internal/services"
)

// ExportHandler streams a board snapshot as an .xlsx download.
type ExportHandler struct {
	exports *services.ExportService
}

// NewExportHandler creates a new export handler
func NewExportHandler(exports *services.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export renders the project workbook.
// GET /api/projects/:projectId/export
func (h *ExportHandler) Export(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	buf, filename, err := h.exports.Export(c.Context(), c.Params("projectId"), userID)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(buf.Bytes())
}
