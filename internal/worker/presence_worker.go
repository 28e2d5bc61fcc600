package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/realtime"
	"github.com/spec-kit/presence-service/internal/service"
)

// Group tracks the long-running presence loops so shutdown can wait for them.
type Group struct {
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{logger: logger}
}

func (g *Group) spawn(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.logger.Info("worker started", zap.String("worker", name))
		fn()
		g.logger.Info("worker stopped", zap.String("worker", name))
	}()
}

// StartBroadcastWorker registers presence handlers and runs the snapshot
// publish loop until ctx ends.
func (g *Group) StartBroadcastWorker(ctx context.Context, broadcast *service.BroadcastService) {
	if broadcast == nil {
		return
	}
	broadcast.RegisterHandlers()
	g.spawn("broadcast", func() { broadcast.Run(ctx) })
}

// StartReaper unsubscribes observers that stop heartbeating.
func (g *Group) StartReaper(ctx context.Context, hub *realtime.Hub, interval time.Duration) {
	if hub == nil || interval <= 0 {
		return
	}
	g.spawn("observer-reaper", func() { realtime.RunReaper(ctx, hub, interval) })
}

// StartRelay ships local presence events to other instances and turns
// remote ones into local broadcast cycles.
func (g *Group) StartRelay(ctx context.Context, relay *events.RedisRelay, broadcast *service.BroadcastService) {
	if relay == nil || broadcast == nil {
		return
	}
	g.spawn("redis-relay", func() { relay.Run(ctx, broadcast.HandleRemote) })
}

// Wait blocks until every started worker has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
