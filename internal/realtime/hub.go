package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/observability"
)

// ErrDeliveryFailed marks a push that could not be written to an observer.
// It is logged and the observer dropped; it never reaches mutation callers.
var ErrDeliveryFailed = errors.New("observer delivery failed")

// HubConfig tunes the hub.
type HubConfig struct {
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
}

// Hub is the registry of live observers and the fan-out point for roster pushes.
type Hub struct {
	cfg     HubConfig
	clock   clock.Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	observers map[Handle]*Observer
	groups    map[string]map[Handle]*Observer
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, c clock.Clock, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:       cfg,
		clock:     c,
		logger:    logger,
		metrics:   metrics,
		observers: make(map[Handle]*Observer),
		groups:    make(map[string]map[Handle]*Observer),
	}
}

// Subscribe registers conn and starts its writer. userID is zero for
// anonymous observers. A non-empty group is joined in addition to the
// global audience.
func (h *Hub) Subscribe(conn Conn, userID int64, group string) *Observer {
	o := newObserver(Handle(uuid.NewString()), userID, conn, h.clock.Now())
	_ = o.state.Transition(StateConnected)

	h.mu.Lock()
	h.observers[o.handle] = o
	total := len(h.observers)
	h.mu.Unlock()

	if group != "" {
		h.JoinGroup(o.handle, group)
	}

	h.metrics.RecordSubscribe()
	h.logger.Info("observer subscribed",
		zap.String("observer_id", string(o.handle)),
		zap.Int64("user_id", userID),
		zap.Int("observers", total))

	go o.writeLoop(h.cfg.PingInterval, h.metrics.RecordDelivery, func(err error) {
		h.deliveryFailed(o, err)
	})
	return o
}

// Unsubscribe removes the observer. Unknown or already removed handles are ignored.
func (h *Hub) Unsubscribe(handle Handle) {
	h.remove(handle, "unsubscribed")
}

func (h *Hub) remove(handle Handle, reason string) bool {
	h.mu.Lock()
	o, ok := h.observers[handle]
	if ok {
		delete(h.observers, handle)
		for _, g := range o.Groups() {
			h.leaveLocked(handle, g)
		}
	}
	remaining := len(h.observers)
	h.mu.Unlock()

	if !ok {
		return false
	}
	o.close()
	h.logger.Info("observer removed",
		zap.String("observer_id", string(handle)),
		zap.String("reason", reason),
		zap.Int("observers", remaining))
	return true
}

func (h *Hub) deliveryFailed(o *Observer, err error) {
	if !h.remove(o.handle, "delivery failed") {
		return
	}
	h.metrics.RecordDeliveryFailure()
	h.logger.Warn("observer dropped",
		zap.String("observer_id", string(o.handle)),
		zap.Error(fmt.Errorf("%w: %v", ErrDeliveryFailed, err)))
}

// Publish queues snapshot for every observer and returns how many were reached.
func (h *Hub) Publish(snapshot domain.RosterSnapshot) int {
	return h.fanOut(h.all(), snapshot, "")
}

// PublishGroup queues snapshot for the members of group only.
func (h *Hub) PublishGroup(group string, snapshot domain.RosterSnapshot) int {
	return h.fanOut(h.members(group), snapshot, group)
}

func (h *Hub) fanOut(targets []*Observer, snapshot domain.RosterSnapshot, group string) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := EncodeRoster(snapshot, h.clock.Now())
	if err != nil {
		h.logger.Error("encode roster frame", zap.Error(err))
		return 0
	}
	for _, o := range targets {
		if o.offerRoster(frame) {
			h.metrics.RecordReplaced()
		}
	}
	if group != "" {
		h.logger.Debug("group roster queued", zap.String("group", group), zap.Int("observers", len(targets)))
	}
	return len(targets)
}

// Send queues a control frame for one observer.
func (h *Hub) Send(handle Handle, frame []byte) bool {
	h.mu.RLock()
	o, ok := h.observers[handle]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return o.send(frame)
}

// Touch records a heartbeat.
func (h *Hub) Touch(handle Handle) {
	h.mu.RLock()
	o, ok := h.observers[handle]
	h.mu.RUnlock()
	if ok {
		o.touch(h.clock.Now())
	}
}

// JoinGroup adds the observer to group.
func (h *Hub) JoinGroup(handle Handle, group string) bool {
	if group == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.observers[handle]
	if !ok {
		return false
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[Handle]*Observer)
		h.groups[group] = members
	}
	members[handle] = o

	o.mu.Lock()
	o.groups[group] = struct{}{}
	o.mu.Unlock()

	h.logger.Debug("observer joined group", zap.String("observer_id", string(handle)), zap.String("group", group))
	return true
}

// LeaveGroup removes the observer from group.
func (h *Hub) LeaveGroup(handle Handle, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(handle, group)
}

func (h *Hub) leaveLocked(handle Handle, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if o, ok := h.observers[handle]; ok {
		o.mu.Lock()
		delete(o.groups, group)
		o.mu.Unlock()
	}
}

// Sweep unsubscribes observers whose last heartbeat is older than the
// configured timeout and returns their handles.
func (h *Hub) Sweep(now time.Time) []Handle {
	if h.cfg.HeartbeatTimeout <= 0 {
		return nil
	}
	cutoff := now.Add(-h.cfg.HeartbeatTimeout)

	var stale []Handle
	for _, o := range h.all() {
		if o.LastSeen().Before(cutoff) {
			stale = append(stale, o.handle)
		}
	}
	for _, handle := range stale {
		if h.remove(handle, "heartbeat timeout") {
			h.metrics.RecordReaped()
		}
	}
	return stale
}

// Count returns the number of subscribed observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// GroupCount returns the number of members in group.
func (h *Hub) GroupCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close unsubscribes every observer.
func (h *Hub) Close() {
	for _, o := range h.all() {
		h.remove(o.handle, "shutdown")
	}
}

func (h *Hub) all() []*Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Observer, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, o)
	}
	return out
}

func (h *Hub) members(group string) []*Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Observer, 0, len(h.groups[group]))
	for _, o := range h.groups[group] {
		out = append(out, o)
	}
	return out
}
