package services

import (
	"log"
	"sync"

	"flowboard/internal/models"
)

// BoardEventBus is an in-memory pub/sub for board events, scoped per
// project. It decouples persistence from WebSocket lifecycle — stores
// publish after every acknowledged write, and each connected board session
// subscribes to its project.
//
// Delivery is non-blocking: a subscriber that cannot keep up loses events
// rather than stalling the writer. Sessions recover from a lossy stream by
// refetching the snapshot; there is no offline buffer because a
// reconnecting client is reseeded from the store anyway.
type BoardEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan models.BoardEvent // projectID → connID → chan
}

// NewBoardEventBus creates a new event bus
func NewBoardEventBus() *BoardEventBus {
	return &BoardEventBus{
		subscribers: make(map[string]map[string]chan models.BoardEvent),
	}
}

// Subscribe creates a new event channel for a connection viewing a project.
// Returns a receive-only channel.
func (b *BoardEventBus) Subscribe(projectID, connID string, bufSize int) <-chan models.BoardEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.BoardEvent, bufSize)
	if _, ok := b.subscribers[projectID]; !ok {
		b.subscribers[projectID] = make(map[string]chan models.BoardEvent)
	}
	b.subscribers[projectID][connID] = ch

	log.Printf("[BOARD-BUS] Subscribe: project=%s conn=%s (total=%d)", projectID, connID, len(b.subscribers[projectID]))

	return ch
}

// Unsubscribe removes a subscription. The channel is NOT closed — the
// subscriber's goroutine should exit via its own done signal, and the
// channel will be GC'd.
func (b *BoardEventBus) Unsubscribe(projectID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conns, ok := b.subscribers[projectID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(b.subscribers, projectID)
		}
		log.Printf("[BOARD-BUS] Unsubscribe: project=%s conn=%s (remaining=%d)", projectID, connID, len(conns))
	}
}

// Publish fans an event out to every subscriber of a project.
// Non-blocking — a full subscriber channel drops the event for that
// subscriber only.
func (b *BoardEventBus) Publish(projectID string, event models.BoardEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for connID, ch := range b.subscribers[projectID] {
		select {
		case ch <- event:
		default:
			log.Printf("⚠️ [BOARD-BUS] Dropped %s event for slow subscriber conn=%s project=%s", event.Type, connID, projectID)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a project
func (b *BoardEventBus) SubscriberCount(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[projectID])
}

// ProjectsWithSubscribers lists projects that currently have at least one
// open board session on this instance.
func (b *BoardEventBus) ProjectsWithSubscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	projects := make([]string, 0, len(b.subscribers))
	for projectID := range b.subscribers {
		projects = append(projects, projectID)
	}
	return projects
}
