package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/observability"
)

type recordingForwarder struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *recordingForwarder) Forward(_ context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type stubBuilder struct {
	err error
}

func (s stubBuilder) BuildSnapshot(context.Context) (domain.RosterSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return domain.RosterSnapshot{{UserID: 1}}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBroadcastRunPublishesEveryTrigger(t *testing.T) {
	hub := &recordingPublisher{}
	metrics := observability.NewMetrics()
	b := NewBroadcastService(BroadcastDependencies{Roster: stubBuilder{}, Hub: hub, Metrics: metrics})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		b.Trigger()
	}
	waitFor(t, func() bool { return hub.count() == 5 })
	if metrics.Broadcasts().Cycles != 5 {
		t.Fatalf("cycles = %d, want 5", metrics.Broadcasts().Cycles)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBroadcastForwardsLocalEventsOnly(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	relay := &recordingForwarder{}
	b := NewBroadcastService(BroadcastDependencies{
		Dispatcher: dispatcher,
		Roster:     stubBuilder{},
		Hub:        &recordingPublisher{},
		Relay:      relay,
	})
	b.RegisterHandlers()

	_ = dispatcher.Publish(context.Background(), events.Event{ID: "local", Type: events.EventSessionConnected})
	b.HandleRemote(events.Event{ID: "remote", Type: events.EventSessionDisconnected})

	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}
	if len(relay.events) != 1 || relay.events[0].ID != "local" {
		t.Fatalf("forwarded = %+v", relay.events)
	}
}

func TestBroadcastSnapshotFailureDoesNotPublish(t *testing.T) {
	hub := &recordingPublisher{}
	b := NewBroadcastService(BroadcastDependencies{Roster: stubBuilder{err: errors.New("store down")}, Hub: hub})

	b.Trigger()
	if ran := b.Drain(context.Background()); ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	if hub.count() != 0 {
		t.Fatalf("published %d snapshots after build failure", hub.count())
	}
	if b.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", b.Pending())
	}
}
