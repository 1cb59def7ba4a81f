package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"flowboard/internal/models"
)

// PubSubService fans board events across instances through Redis pub/sub.
// Every acknowledged write publishes to its project channel; other
// instances replay the event into their local BoardEventBus so sessions on
// any instance converge.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   map[string][]MessageHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// MessageHandler is a callback for handling pub/sub messages
type MessageHandler func(channel string, message *PubSubMessage)

// PubSubMessage is the cross-instance envelope. The event rides along
// fully typed; InstanceID identifies the publisher so an instance never
// replays its own writes.
type PubSubMessage struct {
	Type       string            `json:"type"`
	ProjectID  string            `json:"projectId"`
	InstanceID string            `json:"instanceId"`
	Event      models.BoardEvent `json:"event"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		handlers:   make(map[string][]MessageHandler),
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Subscribe registers a handler for a channel pattern
func (s *PubSubService) Subscribe(pattern string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[pattern] = append(s.handlers[pattern], handler)
	log.Printf("📡 [PUBSUB] Subscribed to pattern: %s", pattern)
}

// Start begins listening for pub/sub messages
func (s *PubSubService) Start() error {
	client := s.redis.Client()

	// One pattern covers every project's event channel
	s.pubsub = client.PSubscribe(s.ctx, "board:*:events")

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	// Start message processor
	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for messages (instance: %s)", s.instanceID)
	return nil
}

// processMessages handles incoming pub/sub messages
func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

// handleMessage processes a single pub/sub message
func (s *PubSubService) handleMessage(msg *redis.Message) {
	var message PubSubMessage
	if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == s.instanceID {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for pattern, handlers := range s.handlers {
		if matchPattern(pattern, msg.Channel) {
			for _, handler := range handlers {
				go handler(msg.Channel, &message)
			}
		}
	}
}

// PublishBoardEvent publishes a board event to its project channel so
// other instances can replay it.
func (s *PubSubService) PublishBoardEvent(ctx context.Context, event models.BoardEvent) error {
	message := &PubSubMessage{
		Type:       event.Type,
		ProjectID:  event.ProjectID,
		InstanceID: s.instanceID,
		Event:      event,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	channel := "board:" + event.ProjectID + ":events"
	return s.redis.Client().Publish(ctx, channel, data).Err()
}

// InstanceID returns this instance's identifier
func (s *PubSubService) InstanceID() string {
	return s.instanceID
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// matchPattern checks if a channel matches a pattern (simplified glob,
// "*" matches one segment)
func matchPattern(pattern, channel string) bool {
	if pattern == channel {
		return true
	}

	patternParts := strings.Split(pattern, ":")
	channelParts := strings.Split(channel, ":")

	if len(patternParts) != len(channelParts) {
		return false
	}

	for i, part := range patternParts {
		if part != "*" && part != channelParts[i] {
			return false
		}
	}

	return true
}
