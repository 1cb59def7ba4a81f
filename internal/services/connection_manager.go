package services

import (
	"log"
	"sync"

	"flowboard/internal/models"
)

// ConnectionManager tracks every live board WebSocket on this instance,
// indexed by connection id and by project for roster queries.
type ConnectionManager struct {
	connections map[string]*models.BoardConnection
	byProject   map[string]map[string]*models.BoardConnection // projectID → connID → conn
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.BoardConnection),
		byProject:   make(map[string]map[string]*models.BoardConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.BoardConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.connections[conn.ConnID] = conn
	if _, ok := cm.byProject[conn.ProjectID]; !ok {
		cm.byProject[conn.ProjectID] = make(map[string]*models.BoardConnection)
	}
	cm.byProject[conn.ProjectID][conn.ConnID] = conn
	log.Printf("✅ Board connection added: %s project=%s (Total: %d)", conn.ConnID, conn.ProjectID, len(cm.connections))
}

// Remove removes a connection and closes its write channel.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	conn, exists := cm.connections[connID]
	if !exists {
		return
	}
	conn.MarkClosed()
	close(conn.WriteChan)
	delete(cm.connections, connID)
	if conns, ok := cm.byProject[conn.ProjectID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(cm.byProject, conn.ProjectID)
		}
	}
	log.Printf("❌ Board connection removed: %s (Total: %d)", connID, len(cm.connections))
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.BoardConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// ForProject returns all connections currently viewing a project.
func (cm *ConnectionManager) ForProject(projectID string) []*models.BoardConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conns := make([]*models.BoardConnection, 0, len(cm.byProject[projectID]))
	for _, conn := range cm.byProject[projectID] {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// ProjectCount returns the number of projects with at least one open board.
func (cm *ConnectionManager) ProjectCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.byProject)
}
