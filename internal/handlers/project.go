package handlers

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"flowboard/internal/board"
	"flowboard/internal/models"
	"flowboard/internal/ordering"
	"flowboard/internal/services"
)

// ProjectHandler serves project CRUD, the board snapshot, and the
// membership endpoints. Column and task mutations run over the board
// WebSocket; this surface covers everything a client does outside an open
// board.
type ProjectHandler struct {
	projects      *services.ProjectStore
	columns       *services.ColumnStore
	tasks         *services.TaskStore
	users         *services.UserStore
	notifications *services.NotificationStore
	membership    *services.MembershipService
	templates     *services.TemplateService
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(
	projects *services.ProjectStore,
	columns *services.ColumnStore,
	tasks *services.TaskStore,
	users *services.UserStore,
	notifications *services.NotificationStore,
	membership *services.MembershipService,
	templates *services.TemplateService,
) *ProjectHandler {
	return &ProjectHandler{
		projects:      projects,
		columns:       columns,
		tasks:         tasks,
		users:         users,
		notifications: notifications,
		membership:    membership,
		templates:     templates,
	}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create makes a new project from the board template; the caller becomes
// owner and first member.
// POST /api/projects
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Project name must be 1-100 characters"})
	}

	tmpl := h.templates.Current()
	now := time.Now().UnixMilli()

	project := &models.Project{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		OwnerID:     userID,
		MemberIDs:   []string{userID},
		Pending:     []models.Invitation{},
		Features: models.FeatureFlags{
			Subtasks:  tmpl.Features.Subtasks,
			Deadlines: tmpl.Features.Deadlines,
			Labels:    tmpl.Features.Labels,
			Dashboard: tmpl.Features.Dashboard,
		},
		Labels:        make([]models.Label, 0, len(tmpl.Labels)),
		ArchivePolicy: models.ArchiveNever,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if models.ValidArchivePolicy(models.ArchivePolicy(tmpl.ArchivePolicy)) {
		project.ArchivePolicy = models.ArchivePolicy(tmpl.ArchivePolicy)
	}
	for _, l := range tmpl.Labels {
		project.Labels = append(project.Labels, models.Label{
			ID:    uuid.New().String(),
			Name:  l.Name,
			Color: l.Color,
		})
	}

	ctx := c.Context()
	if err := h.projects.Create(ctx, project); err != nil {
		return respondError(c, err)
	}

	keys := ordering.Spaced(len(tmpl.Columns))
	columns := make([]*models.Column, 0, len(tmpl.Columns))
	for i, tc := range tmpl.Columns {
		column := &models.Column{
			ID:        uuid.New().String(),
			ProjectID: project.ID,
			Title:     tc.Title,
			OrderKey:  keys[i],
			Terminal:  tc.Terminal,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.columns.Create(ctx, column); err != nil {
			log.Printf("⚠️ Failed to create template column for project %s: %v", project.ID, err)
			continue
		}
		columns = append(columns, column)
	}

	log.Printf("✅ Project created: %s (%s) by %s", project.Name, project.ID, userID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"project": project,
		"columns": columns,
	})
}

// List returns the caller's projects plus the ones they are invited to.
// GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	ctx := c.Context()

	member, err := h.projects.ListForUser(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	invited, err := h.projects.ListPendingForUser(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}

	type projectSummary struct {
		*models.Project
		TaskCount     int64 `json:"task_count"`
		ArchivedCount int64 `json:"archived_count"`
	}
	summaries := make([]projectSummary, 0, len(member))
	for _, project := range member {
		total, archived, err := h.tasks.CountByProject(ctx, project.ID)
		if err != nil {
			log.Printf("⚠️ [PROJECT] Task counts unavailable for %s: %v", project.ID, err)
		}
		summaries = append(summaries, projectSummary{Project: project, TaskCount: total, ArchivedCount: archived})
	}

	return c.JSON(fiber.Map{
		"projects": summaries,
		"invited":  invited,
	})
}

// Snapshot returns the full board state for one project: the initial load
// for a client before it opens the WebSocket.
// GET /api/projects/:projectId/board
func (h *ProjectHandler) Snapshot(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")
	ctx := c.Context()

	project, err := h.projects.GetForMember(ctx, projectID, userID)
	if err != nil {
		return respondError(c, err)
	}
	columns, err := h.columns.ListByProject(ctx, projectID)
	if err != nil {
		return respondError(c, err)
	}
	includeArchived := c.QueryBool("archived", false)
	tasks, err := h.tasks.ListByProject(ctx, projectID, includeArchived)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"project": project,
		"columns": columns,
		"tasks":   tasks,
	})
}

// Delete removes a project with all its columns, tasks and notifications.
// Owner only.
// DELETE /api/projects/:projectId
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")
	ctx := c.Context()

	if err := h.projects.Delete(ctx, projectID, userID); err != nil {
		return respondError(c, err)
	}
	if err := h.tasks.DeleteByProject(ctx, projectID); err != nil {
		log.Printf("⚠️ Task cascade failed for project %s: %v", projectID, err)
	}
	if err := h.columns.DeleteByProject(ctx, projectID); err != nil {
		log.Printf("⚠️ Column cascade failed for project %s: %v", projectID, err)
	}
	if err := h.notifications.DeleteByProject(ctx, projectID); err != nil {
		log.Printf("⚠️ Notification cascade failed for project %s: %v", projectID, err)
	}

	log.Printf("🗑️ Project deleted: %s by %s", projectID, userID)
	return c.JSON(fiber.Map{"deleted": projectID})
}

// Members resolves the project's member and pending user profiles.
// GET /api/projects/:projectId/members
func (h *ProjectHandler) Members(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")
	ctx := c.Context()

	project, err := h.projects.GetForMember(ctx, projectID, userID)
	if err != nil {
		return respondError(c, err)
	}
	users, err := h.users.GetMany(ctx, project.MemberIDs)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"members": users,
		"pending": project.Pending,
		"owner":   project.OwnerID,
	})
}

type inviteRequest struct {
	Email string `json:"email"`
}

// Invite adds a pending invitation by email.
// POST /api/projects/:projectId/invitations
func (h *ProjectHandler) Invite(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")

	var req inviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email is required"})
	}

	ctx := c.Context()
	invitee, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		return respondError(c, board.NotFoundf("no account for %s", email))
	}
	if invitee.ID == userID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "You cannot invite yourself"})
	}

	project, err := h.membership.Invite(ctx, projectID, userID, invitee)
	if err != nil {
		return respondError(c, err)
	}

	log.Printf("✉️ Invitation: %s invited %s to project %s", userID, invitee.ID, projectID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"project": project})
}

// AcceptInvitation makes the caller a member.
// POST /api/projects/:projectId/invitations/:invitationId/accept
func (h *ProjectHandler) AcceptInvitation(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	project, err := h.membership.Accept(c.Context(), c.Params("projectId"), c.Params("invitationId"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"project": project})
}

// DeclineInvitation rejects a pending invitation.
// POST /api/projects/:projectId/invitations/:invitationId/decline
func (h *ProjectHandler) DeclineInvitation(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	project, err := h.membership.Decline(c.Context(), c.Params("projectId"), c.Params("invitationId"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"project": project})
}

// CancelInvitation revokes a pending invitation (member action).
// DELETE /api/projects/:projectId/invitations/:invitationId
func (h *ProjectHandler) CancelInvitation(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	project, err := h.membership.CancelInvitation(c.Context(), c.Params("projectId"), userID, c.Params("invitationId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"project": project})
}

// RemoveMember removes a member (owner) or leaves the project (self).
// DELETE /api/projects/:projectId/members/:memberId
func (h *ProjectHandler) RemoveMember(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")
	memberID := c.Params("memberId")

	project, err := h.membership.RemoveMember(c.Context(), projectID, userID, memberID)
	if err != nil {
		return respondError(c, err)
	}

	// Dropped members keep no task assignments
	now := time.Now().UnixMilli()
	if _, err := h.tasks.PullAssignee(c.Context(), projectID, memberID, now); err != nil {
		log.Printf("⚠️ Assignee cleanup failed for %s in project %s: %v", memberID, projectID, err)
	}

	return c.JSON(fiber.Map{"project": project})
}
