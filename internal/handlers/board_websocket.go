package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"flowboard/internal/board"
	"flowboard/internal/models"
	"flowboard/internal/services"
)

const (
	boardReadDeadline = 90 * time.Second
	boardPingInterval = 30 * time.Second
	eventBufferSize   = 256
)

// BoardWebSocketHandler owns the live board channel: one connection per
// open board, carrying client intents inbound and board/presence events
// outbound. Each connection runs its own board.Session, so intents apply
// optimistically against a mirror and reconcile against pushes from every
// other writer.
type BoardWebSocketHandler struct {
	connManager      *services.ConnectionManager
	projects         *services.ProjectStore
	columns          *services.ColumnStore
	tasks            *services.TaskStore
	users            *services.UserStore
	bus              *services.BoardEventBus
	pubsub           *services.PubSubService // Optional
	presence         *services.PresenceService
	presenceInterval time.Duration
}

// NewBoardWebSocketHandler creates a new board WebSocket handler
func NewBoardWebSocketHandler(
	connManager *services.ConnectionManager,
	projects *services.ProjectStore,
	columns *services.ColumnStore,
	tasks *services.TaskStore,
	users *services.UserStore,
	bus *services.BoardEventBus,
	pubsub *services.PubSubService,
	presence *services.PresenceService,
	presenceInterval time.Duration,
) *BoardWebSocketHandler {
	return &BoardWebSocketHandler{
		connManager:      connManager,
		projects:         projects,
		columns:          columns,
		tasks:            tasks,
		users:            users,
		bus:              bus,
		pubsub:           pubsub,
		presence:         presence,
		presenceInterval: presenceInterval,
	}
}

// Handle runs one board connection to completion.
func (h *BoardWebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	userID, _ := c.Locals("user_id").(string)
	projectID := c.Params("projectId")

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	// Membership gate + initial snapshot in one load.
	project, err := h.projects.GetForMember(ctx, projectID, userID)
	if err != nil {
		h.reject(c, err)
		return
	}
	columns, err := h.columns.ListByProject(ctx, projectID)
	if err != nil {
		h.reject(c, err)
		return
	}
	tasks, err := h.tasks.ListByProject(ctx, projectID, false)
	if err != nil {
		h.reject(c, err)
		return
	}
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		h.reject(c, err)
		return
	}

	events := h.bus.Subscribe(projectID, connID, eventBufferSize)
	remote := services.NewBoardRemote(h.projects, h.columns, h.tasks, h.bus, h.pubsub, userID)
	session := board.NewSession(userID, board.Snapshot{
		Project: project,
		Columns: columns,
		Tasks:   tasks,
	}, remote, func() {
		h.bus.Unsubscribe(projectID, connID)
	})

	conn := &models.BoardConnection{
		ConnID:      connID,
		UserID:      userID,
		ProjectID:   projectID,
		DisplayName: user.DisplayName,
		Color:       user.Color,
		Conn:        c,
		CreatedAt:   time.Now(),
		WriteChan:   make(chan models.BoardServerMessage, 100),
	}
	h.connManager.Add(conn)
	if m := services.GetMetrics(); m != nil {
		m.RecordBoardConnect()
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		session.Close()
		h.presence.Leave(projectID, userID)
		h.connManager.Remove(connID)
		// Last viewer on this instance drops the roster; a viewer on
		// another instance recreates it from its next cursor event.
		if h.bus.SubscriberCount(projectID) == 0 {
			h.presence.ReleaseProject(projectID)
		}
		if m := services.GetMetrics(); m != nil {
			m.RecordBoardDisconnect()
		}
		log.Printf("[BOARD-WS] Closed: conn=%s project=%s user=%s", connID, projectID, userID)
	}()

	c.SetReadDeadline(time.Now().Add(boardReadDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(boardReadDeadline))
		return nil
	})

	go h.writeLoop(conn)
	go h.pingLoop(conn, done)
	go h.eventLoop(conn, session, events, done)

	// Seed the client: board snapshot plus who else is here.
	conn.SafeSend(models.BoardServerMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"project":  project,
			"columns":  columns,
			"tasks":    tasks,
			"presence": h.presence.Roster(projectID, userID),
		},
	})

	h.readLoop(conn, session)
}

func (h *BoardWebSocketHandler) reject(c *websocket.Conn, err error) {
	kind := board.KindOf(err)
	msg := models.BoardServerMessage{
		Type:      "error",
		ErrorKind: kind.String(),
		Message:   "Unable to open board",
	}
	if kind != board.KindUnknown {
		msg.Message = err.Error()
	}
	if data, marshalErr := json.Marshal(msg); marshalErr == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}
	c.Close()
}

// pingLoop keeps the connection alive through idle spells.
func (h *BoardWebSocketHandler) pingLoop(conn *models.BoardConnection, done <-chan struct{}) {
	ticker := time.NewTicker(boardPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			conn.Mutex.Unlock()
			if err != nil {
				log.Printf("⚠️ [BOARD-WS] Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains the connection's write channel.
func (h *BoardWebSocketHandler) writeLoop(conn *models.BoardConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [BOARD-WS] Panic in writeLoop: %v", r)
		}
	}()

	for msg := range conn.WriteChan {
		conn.Mutex.Lock()
		err := conn.Conn.WriteJSON(msg)
		conn.Mutex.Unlock()
		if err != nil {
			log.Printf("❌ [BOARD-WS] Write error for %s: %v", conn.ConnID, err)
			return
		}
		if m := services.GetMetrics(); m != nil {
			m.RecordBoardMessage(msg.Type, "outbound")
		}
	}
}

// eventLoop forwards bus events to the client. Board events reconcile
// into the session mirror first; pushes the mirror rejects as stale are
// not forwarded, so the client only sees state that won.
func (h *BoardWebSocketHandler) eventLoop(conn *models.BoardConnection, session *board.Session, events <-chan models.BoardEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case models.EventPresence:
				// The roster excludes the viewer's own cursor
				if event.ActorID == conn.UserID {
					continue
				}
				conn.SafeSend(models.BoardServerMessage{Type: event.Type, Data: event})
			case models.EventPresenceLeft:
				if event.UserID == conn.UserID {
					continue
				}
				conn.SafeSend(models.BoardServerMessage{Type: event.Type, Data: event})
			default:
				if session.ApplyRemote(event) {
					conn.SafeSend(models.BoardServerMessage{Type: event.Type, Data: event})
				}
			}
		}
	}
}

// readLoop consumes client intents until the connection drops.
func (h *BoardWebSocketHandler) readLoop(conn *models.BoardConnection, session *board.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [BOARD-WS] Panic in readLoop: %v", r)
		}
	}()

	// Cursor broadcasts are throttled per connection; excess pointer
	// events inside the interval are dropped, the next allowed one
	// carries the current position anyway.
	cursorLimiter := rate.NewLimiter(rate.Every(h.presenceInterval), 1)

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(boardReadDeadline))

		var msg models.BoardClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.SafeSend(models.BoardServerMessage{
				Type:      "error",
				ErrorKind: board.KindValidationFailed.String(),
				Message:   "Invalid message format",
			})
			continue
		}
		if m := services.GetMetrics(); m != nil {
			m.RecordBoardMessage(msg.Type, "inbound")
		}

		switch msg.Type {
		case "ping":
			conn.SafeSend(models.BoardServerMessage{Type: "pong"})
		case "cursor_move":
			if !cursorLimiter.Allow() {
				continue
			}
			h.presence.Touch(conn.ProjectID, models.PresenceRecord{
				UserID:      conn.UserID,
				DisplayName: conn.DisplayName,
				Color:       conn.Color,
				Cursor:      msg.Cursor,
				UpdatedAt:   time.Now().UnixMilli(),
			})
		case "cursor_leave":
			h.presence.Leave(conn.ProjectID, conn.UserID)
		default:
			h.handleIntent(conn, session, msg)
		}
	}
}

// handleIntent runs one board operation against the session. Results
// arrive at every client (this one included) as bus events; only failures
// are answered directly, tagged with the op id so the client can revert
// its optimistic change.
func (h *BoardWebSocketHandler) handleIntent(conn *models.BoardConnection, session *board.Session, msg models.BoardClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	switch msg.Type {
	case "add_task":
		draft := board.TaskDraft{
			ColumnID:    msg.ColumnID,
			AssigneeIDs: msg.AssigneeIDs,
			LabelIDs:    msg.LabelIDs,
			Deadline:    msg.Deadline,
		}
		if msg.Title != nil {
			draft.Title = *msg.Title
		}
		if msg.Description != nil {
			draft.Description = *msg.Description
		}
		if msg.Priority != nil {
			draft.Priority = models.Priority(*msg.Priority)
		}
		if msg.ParentID != nil {
			draft.ParentID = *msg.ParentID
		}
		_, err = session.AddTask(ctx, draft)
	case "update_task":
		update := board.TaskUpdate{
			Title:       msg.Title,
			Description: msg.Description,
			Deadline:    msg.Deadline,
			ParentID:    msg.ParentID,
			AssigneeIDs: msg.AssigneeIDs,
		}
		if msg.Priority != nil {
			p := models.Priority(*msg.Priority)
			update.Priority = &p
		}
		err = session.UpdateTask(ctx, msg.TaskID, update)
	case "move_task":
		err = session.MoveTask(ctx, msg.TaskID, msg.TargetColumnID, msg.TargetIndex)
	case "toggle_complete":
		err = session.ToggleComplete(ctx, msg.TaskID)
	case "archive_task":
		err = session.ArchiveTask(ctx, msg.TaskID)
	case "delete_task":
		err = session.DeleteTask(ctx, msg.TaskID)
	case "set_labels":
		err = session.SetTaskLabels(ctx, msg.TaskID, msg.LabelIDs)
	case "add_comment":
		err = session.AddComment(ctx, msg.TaskID, msg.Text)
	case "add_column":
		title := ""
		if msg.Title != nil {
			title = *msg.Title
		}
		_, err = session.AddColumn(ctx, title)
	case "rename_column":
		title := ""
		if msg.Title != nil {
			title = *msg.Title
		}
		err = session.RenameColumn(ctx, msg.ColumnID, title)
	case "set_column_terminal":
		err = session.SetColumnTerminal(ctx, msg.ColumnID, msg.Terminal)
	case "move_column":
		err = session.MoveColumn(ctx, msg.ColumnID, msg.TargetIndex)
	case "delete_column":
		err = session.DeleteColumn(ctx, msg.ColumnID)
	case "rename_project":
		name := ""
		if msg.Title != nil {
			name = *msg.Title
		}
		err = session.RenameProject(ctx, name)
	case "update_settings":
		var policy *models.ArchivePolicy
		if msg.ArchivePolicy != nil {
			p := models.ArchivePolicy(*msg.ArchivePolicy)
			policy = &p
		}
		err = session.UpdateSettings(ctx, msg.Features, policy)
	case "add_label":
		name := ""
		if msg.Title != nil {
			name = *msg.Title
		}
		_, err = session.AddLabel(ctx, name, msg.Color)
	case "update_label":
		name := ""
		if msg.Title != nil {
			name = *msg.Title
		}
		err = session.UpdateLabel(ctx, msg.LabelID, name, msg.Color)
	case "delete_label":
		err = session.DeleteLabel(ctx, msg.LabelID)
	default:
		err = board.Invalidf("unknown intent %q", msg.Type)
	}

	result := "ok"
	if err != nil {
		kind := board.KindOf(err)
		result = kind.String()
		conn.SafeSend(models.BoardServerMessage{
			Type:      "op_failed",
			OpID:      msg.OpID,
			ErrorKind: kind.String(),
			Message:   err.Error(),
		})
	} else if msg.OpID != "" {
		conn.SafeSend(models.BoardServerMessage{Type: "op_ok", OpID: msg.OpID})
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordSyncOperation(msg.Type, result)
	}
}
