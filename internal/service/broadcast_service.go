package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/observability"
)

// SnapshotBuilder produces the current roster.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context) (domain.RosterSnapshot, error)
}

// SnapshotPublisher fans a roster out to observers and reports how many were queued.
type SnapshotPublisher interface {
	Publish(snapshot domain.RosterSnapshot) int
}

// EventForwarder ships local presence events to other instances.
type EventForwarder interface {
	Forward(ctx context.Context, event events.Event) error
}

// BroadcastService turns committed presence events into roster pushes.
// Each event queues one build+publish cycle; cycles run serially on the
// Run goroutine so mutations never wait on fan-out.
type BroadcastService struct {
	dispatcher events.Dispatcher
	roster     SnapshotBuilder
	hub        SnapshotPublisher
	relay      EventForwarder
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	pending int
	wake    chan struct{}
}

// BroadcastDependencies bundles collaborators for the broadcast service.
type BroadcastDependencies struct {
	Dispatcher events.Dispatcher
	Roster     SnapshotBuilder
	Hub        SnapshotPublisher
	Relay      EventForwarder
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewBroadcastService creates the service.
func NewBroadcastService(deps BroadcastDependencies) *BroadcastService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BroadcastService{
		dispatcher: deps.Dispatcher,
		roster:     deps.Roster,
		hub:        deps.Hub,
		relay:      deps.Relay,
		metrics:    deps.Metrics,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
}

// RegisterHandlers subscribes to presence events.
func (b *BroadcastService) RegisterHandlers() {
	if b.dispatcher == nil {
		return
	}
	events.SubscribePresence(b.dispatcher, b.handlePresenceEvent)
}

func (b *BroadcastService) handlePresenceEvent(ctx context.Context, event events.Event) error {
	b.logger.Debug("presence event",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
		zap.Int64("user_id", event.UserID))
	b.Trigger()
	if b.relay != nil {
		return b.relay.Forward(ctx, event)
	}
	return nil
}

// HandleRemote queues a cycle for a mutation committed by another instance.
func (b *BroadcastService) HandleRemote(event events.Event) {
	b.logger.Debug("remote presence event",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID))
	b.Trigger()
}

// Trigger queues one build+publish cycle. It never blocks.
func (b *BroadcastService) Trigger() {
	b.mu.Lock()
	b.pending++
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Pending reports cycles queued but not yet run.
func (b *BroadcastService) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Run executes queued cycles until ctx is cancelled.
func (b *BroadcastService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.Drain(ctx)
		}
	}
}

// Drain runs every queued cycle and returns how many ran.
func (b *BroadcastService) Drain(ctx context.Context) int {
	ran := 0
	for {
		b.mu.Lock()
		if b.pending == 0 {
			b.mu.Unlock()
			return ran
		}
		b.pending--
		b.mu.Unlock()

		b.cycle(ctx)
		ran++
	}
}

func (b *BroadcastService) cycle(ctx context.Context) {
	snapshot, err := b.roster.BuildSnapshot(ctx)
	if err != nil {
		// Observers heal through their pull-on-reconnect path.
		b.logger.Warn("build roster snapshot failed", zap.Error(err))
		return
	}
	queued := b.hub.Publish(snapshot)
	b.metrics.RecordCycle()
	b.logger.Debug("roster published", zap.Int("entries", len(snapshot)), zap.Int("observers", queued))
}
