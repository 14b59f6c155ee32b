package events

import (
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

func TestBus_HandlersReceiveEveryEvent(t *testing.T) {
	bus := NewBus(nil)

	var got []models.EventType
	bus.Subscribe(func(e models.Event) {
		got = append(got, e.Type)
	})

	bus.Publish(models.Event{Type: models.EventFindingCreated, Identity: "a"})
	bus.Publish(models.Event{Type: models.EventFindingUpdated, Identity: "a"})

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0] != models.EventFindingCreated || got[1] != models.EventFindingUpdated {
		t.Errorf("events out of order: %v", got)
	}
}

func TestBus_ChannelSubscriber(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Channel()

	bus.Publish(models.Event{Type: models.EventFindingReopened, Identity: "b"})

	select {
	case e := <-ch:
		if e.Type != models.EventFindingReopened {
			t.Errorf("unexpected event type %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered to channel subscriber")
	}
}

func TestBus_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(nil)
	bus.Channel() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(models.Event{Type: models.EventFindingCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestBus_ClosedBusDropsEvents(t *testing.T) {
	bus := NewBus(nil)

	received := 0
	bus.Subscribe(func(models.Event) { received++ })

	bus.Close()
	bus.Publish(models.Event{Type: models.EventFindingCreated})

	if received != 0 {
		t.Errorf("closed bus should not deliver, got %d events", received)
	}
}
