package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"flowboard/internal/models"
)

// PresenceService owns the ephemeral per-project roster: who is on the
// board and where their cursor is. Records live in a TTL cache so a user
// whose connection died without a leave event disappears from the roster
// after the inactivity window, with no persistence anywhere.
//
// Merging follows the same rule as board reconciliation: per user id, the
// record with the newest timestamp wins, regardless of arrival order.
type PresenceService struct {
	window time.Duration
	bus    *BoardEventBus
	pubsub *PubSubService // Optional; nil when Redis is unavailable

	mu      sync.RWMutex
	rosters map[string]*gocache.Cache // projectID → (userID → models.PresenceRecord)
}

// NewPresenceService creates the roster store. window is the inactivity
// window after which an unrefreshed record is evicted.
func NewPresenceService(window time.Duration, bus *BoardEventBus, pubsub *PubSubService) *PresenceService {
	return &PresenceService{
		window:  window,
		bus:     bus,
		pubsub:  pubsub,
		rosters: make(map[string]*gocache.Cache),
	}
}

// rosterFor returns the project's cache, creating it on first use. The
// cache janitor runs at half the window so expired records are reaped and
// their departure broadcast even when nobody touches the roster.
func (p *PresenceService) rosterFor(projectID string) *gocache.Cache {
	p.mu.RLock()
	roster, ok := p.rosters[projectID]
	p.mu.RUnlock()
	if ok {
		return roster
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if roster, ok = p.rosters[projectID]; ok {
		return roster
	}
	roster = gocache.New(p.window, p.window/2)
	p.hookRoster(projectID, roster)
	p.rosters[projectID] = roster
	return roster
}

// Touch merges a cursor update into the roster and broadcasts it. A record
// older than the one already held is dropped — an out-of-order arrival
// never rolls a cursor back.
func (p *PresenceService) Touch(projectID string, record models.PresenceRecord) {
	if record.UpdatedAt == 0 {
		record.UpdatedAt = time.Now().UnixMilli()
	}

	roster := p.rosterFor(projectID)
	if existing, ok := roster.Get(record.UserID); ok {
		if prior, ok := existing.(models.PresenceRecord); ok && prior.UpdatedAt > record.UpdatedAt {
			return
		}
	}
	roster.SetDefault(record.UserID, record)

	if m := GetMetrics(); m != nil {
		m.RecordPresenceEvent("cursor")
	}
	p.broadcast(models.BoardEvent{
		Type:      models.EventPresence,
		ProjectID: projectID,
		ActorID:   record.UserID,
		Presence:  &record,
		Timestamp: record.UpdatedAt,
	})
}

// Leave removes a user's record immediately (explicit pointer-leave or
// disconnect) and broadcasts the departure.
func (p *PresenceService) Leave(projectID, userID string) {
	p.mu.RLock()
	roster, ok := p.rosters[projectID]
	p.mu.RUnlock()
	if !ok {
		return
	}

	if _, present := roster.Get(userID); !present {
		return
	}
	// Delete fires OnEvicted, which handles the broadcast.
	roster.Delete(userID)
	if m := GetMetrics(); m != nil {
		m.RecordPresenceEvent("leave")
	}
}

// Apply merges a record received from another instance without
// re-broadcasting it, so cross-instance replay does not loop.
func (p *PresenceService) Apply(projectID string, record models.PresenceRecord) {
	roster := p.rosterFor(projectID)
	if existing, ok := roster.Get(record.UserID); ok {
		if prior, ok := existing.(models.PresenceRecord); ok && prior.UpdatedAt > record.UpdatedAt {
			return
		}
	}
	roster.SetDefault(record.UserID, record)
}

// Drop removes a record received as a departure from another instance,
// without re-broadcasting.
func (p *PresenceService) Drop(projectID, userID string) {
	p.mu.RLock()
	roster, ok := p.rosters[projectID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	// Swap the eviction hook off so the cross-instance delete stays quiet.
	if _, present := roster.Get(userID); present {
		roster.OnEvicted(nil)
		roster.Delete(userID)
		p.hookRoster(projectID, roster)
	}
}

// hookRoster installs the eviction hook that broadcasts a departure when a
// record expires or is deleted.
func (p *PresenceService) hookRoster(projectID string, roster *gocache.Cache) {
	roster.OnEvicted(func(userID string, _ interface{}) {
		log.Printf("[PRESENCE] Record gone: project=%s user=%s", projectID, userID)
		if m := GetMetrics(); m != nil {
			m.PresenceEvicted.Inc()
		}
		p.broadcastLeft(projectID, userID)
	})
}

// Roster returns every live record for a project except excludeUserID's
// own, sorted by user id for stable output.
func (p *PresenceService) Roster(projectID, excludeUserID string) []models.PresenceRecord {
	p.mu.RLock()
	roster, ok := p.rosters[projectID]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	items := roster.Items()
	records := make([]models.PresenceRecord, 0, len(items))
	for userID, item := range items {
		if userID == excludeUserID {
			continue
		}
		if item.Expired() {
			continue
		}
		if record, ok := item.Object.(models.PresenceRecord); ok {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}

// ReleaseProject drops a project's roster entirely once its last board
// connection on every instance is gone. Safe to call with live viewers on
// other instances; their next cursor event recreates the roster.
func (p *PresenceService) ReleaseProject(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if roster, ok := p.rosters[projectID]; ok {
		roster.OnEvicted(nil)
		roster.Flush()
		delete(p.rosters, projectID)
	}
}

func (p *PresenceService) broadcast(event models.BoardEvent) {
	p.bus.Publish(event.ProjectID, event)
	if p.pubsub != nil {
		if err := p.pubsub.PublishBoardEvent(context.Background(), event); err != nil {
			log.Printf("⚠️ [PRESENCE] Cross-instance publish failed: %v", err)
		}
	}
}

func (p *PresenceService) broadcastLeft(projectID, userID string) {
	p.broadcast(models.BoardEvent{
		Type:      models.EventPresenceLeft,
		ProjectID: projectID,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	})
}
