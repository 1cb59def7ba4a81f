package services

import (
	"testing"

	"flowboard/internal/models"
)

func TestBoardEventBus_PublishReachesAllProjectSubscribers(t *testing.T) {
	bus := NewBoardEventBus()

	ch1 := bus.Subscribe("p1", "conn-1", 8)
	ch2 := bus.Subscribe("p1", "conn-2", 8)
	other := bus.Subscribe("p2", "conn-3", 8)

	bus.Publish("p1", models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "p1", TaskID: "t1"})

	for i, ch := range []<-chan models.BoardEvent{ch1, ch2} {
		select {
		case e := <-ch:
			if e.TaskID != "t1" {
				t.Errorf("Subscriber %d got wrong event: %+v", i+1, e)
			}
		default:
			t.Errorf("Subscriber %d did not receive the event", i+1)
		}
	}

	select {
	case e := <-other:
		t.Errorf("Event leaked to another project's subscriber: %+v", e)
	default:
	}
}

func TestBoardEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBoardEventBus()

	ch := bus.Subscribe("p1", "conn-1", 8)
	bus.Unsubscribe("p1", "conn-1")

	bus.Publish("p1", models.BoardEvent{Type: models.EventProjectUpdated, ProjectID: "p1"})

	select {
	case e := <-ch:
		t.Errorf("Received event after unsubscribe: %+v", e)
	default:
	}

	if n := bus.SubscriberCount("p1"); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

func TestBoardEventBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBoardEventBus()

	ch := bus.Subscribe("p1", "conn-1", 2)

	// Publish past the buffer. Must return without blocking.
	for i := 0; i < 5; i++ {
		bus.Publish("p1", models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "p1"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != 2 {
		t.Errorf("Expected exactly the buffered 2 events, got %d", received)
	}
}

func TestBoardEventBus_ProjectsWithSubscribers(t *testing.T) {
	bus := NewBoardEventBus()

	bus.Subscribe("p1", "conn-1", 1)
	bus.Subscribe("p2", "conn-2", 1)
	bus.Unsubscribe("p2", "conn-2")

	projects := bus.ProjectsWithSubscribers()
	if len(projects) != 1 || projects[0] != "p1" {
		t.Errorf("Expected [p1], got %v", projects)
	}
}
