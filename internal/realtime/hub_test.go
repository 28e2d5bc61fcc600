package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/observability"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	failErr error
	block   chan struct{}
	written chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan struct{}, 64)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil && messageType == websocket.TextMessage {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	if messageType == websocket.TextMessage {
		c.frames = append(c.frames, append([]byte(nil), data...))
		select {
		case c.written <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) rosters(t *testing.T) []domain.RosterSnapshot {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.RosterSnapshot
	for _, f := range c.frames {
		snap, err := DecodeRoster(f)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, snap)
	}
	return out
}

func (c *fakeConn) waitWrites(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.written:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for write %d of %d", i+1, n)
		}
	}
}

func newTestHub(timeout time.Duration) (*Hub, *clock.Fake, *observability.Metrics) {
	fake := clock.NewFake(t0)
	metrics := observability.NewMetrics()
	return NewHub(HubConfig{HeartbeatTimeout: timeout}, fake, nil, metrics), fake, metrics
}

func waitUntil(t *testing.T, cond func() bool) {
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

func TestHubPublishReachesEveryObserver(t *testing.T) {
	hub, _, _ := newTestHub(0)
	a, b := newFakeConn(), newFakeConn()
	hub.Subscribe(a, 1, "")
	hub.Subscribe(b, 0, "")

	snapshot := domain.RosterSnapshot{{UserID: 1, Status: "Active"}}
	if n := hub.Publish(snapshot); n != 2 {
		t.Fatalf("Publish reached %d, want 2", n)
	}
	a.waitWrites(t, 1)
	b.waitWrites(t, 1)

	for _, conn := range []*fakeConn{a, b} {
		got := conn.rosters(t)
		if len(got) != 1 || got[0][0].Status != "Active" {
			t.Fatalf("frames = %+v", got)
		}
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub, _, _ := newTestHub(0)
	conn := newFakeConn()
	o := hub.Subscribe(conn, 1, "support")

	hub.Unsubscribe(o.Handle())
	hub.Unsubscribe(o.Handle())
	hub.Unsubscribe("unknown")

	if hub.Count() != 0 || hub.GroupCount("support") != 0 {
		t.Fatalf("count = %d, group = %d", hub.Count(), hub.GroupCount("support"))
	}
	if o.State() != StateClosed {
		t.Fatalf("state = %s, want closed", o.State())
	}
	select {
	case <-o.Done():
	default:
		t.Fatal("Done not closed")
	}
	waitUntil(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	})
}

func TestHubSlowObserverKeepsOnlyLatest(t *testing.T) {
	hub, _, metrics := newTestHub(0)
	slow := newFakeConn()
	slow.block = make(chan struct{})
	fast := newFakeConn()
	hub.Subscribe(slow, 1, "")
	hub.Subscribe(fast, 2, "")

	for i := 1; i <= 5; i++ {
		hub.Publish(domain.RosterSnapshot{{UserID: int64(i)}})
		fast.waitWrites(t, 1)
	}
	close(slow.block)
	slow.waitWrites(t, 1)

	waitUntil(t, func() bool {
		got := slow.rosters(t)
		return len(got) > 0 && got[len(got)-1][0].UserID == 5
	})
	if got := slow.rosters(t); len(got) > 2 {
		t.Fatalf("slow observer received %d frames, want at most 2", len(got))
	}
	if len(fast.rosters(t)) != 5 {
		t.Fatalf("fast observer frames = %d, want 5", len(fast.rosters(t)))
	}
	if metrics.Broadcasts().Replaced == 0 {
		t.Fatal("expected replaced frames to be counted")
	}
}

func TestHubDropsObserverOnDeliveryFailure(t *testing.T) {
	hub, _, metrics := newTestHub(0)
	broken := newFakeConn()
	broken.failErr = errors.New("broken pipe")
	healthy := newFakeConn()
	hub.Subscribe(broken, 1, "")
	hub.Subscribe(healthy, 2, "")

	hub.Publish(domain.RosterSnapshot{{UserID: 1}})
	healthy.waitWrites(t, 1)
	waitUntil(t, func() bool { return hub.Count() == 1 })

	if metrics.Broadcasts().Failed != 1 {
		t.Fatalf("failed = %d, want 1", metrics.Broadcasts().Failed)
	}
	hub.Publish(domain.RosterSnapshot{})
	healthy.waitWrites(t, 1)
}

func TestHubGroups(t *testing.T) {
	hub, _, _ := newTestHub(0)
	member, other := newFakeConn(), newFakeConn()
	m := hub.Subscribe(member, 1, "")
	hub.Subscribe(other, 2, "")

	if !hub.JoinGroup(m.Handle(), "support") {
		t.Fatal("JoinGroup failed")
	}
	if n := hub.PublishGroup("support", domain.RosterSnapshot{{UserID: 7}}); n != 1 {
		t.Fatalf("PublishGroup reached %d, want 1", n)
	}
	member.waitWrites(t, 1)

	if n := hub.Publish(domain.RosterSnapshot{}); n != 2 {
		t.Fatalf("global Publish reached %d, want 2 (groups are additive)", n)
	}

	hub.LeaveGroup(m.Handle(), "support")
	if n := hub.PublishGroup("support", domain.RosterSnapshot{}); n != 0 {
		t.Fatalf("PublishGroup after leave reached %d", n)
	}
	if len(other.rosters(t)) > 1 {
		t.Fatal("non-member received group frame")
	}
}

func TestHubSweepReapsSilentObservers(t *testing.T) {
	hub, fake, metrics := newTestHub(time.Minute)
	quiet := hub.Subscribe(newFakeConn(), 1, "")
	chatty := hub.Subscribe(newFakeConn(), 2, "")

	fake.Advance(45 * time.Second)
	hub.Touch(chatty.Handle())
	fake.Advance(30 * time.Second)

	reaped := hub.Sweep(fake.Now())
	if len(reaped) != 1 || reaped[0] != quiet.Handle() {
		t.Fatalf("reaped = %v, want [%s]", reaped, quiet.Handle())
	}
	if hub.Count() != 1 || metrics.Broadcasts().Reaped != 1 {
		t.Fatalf("count = %d reaped = %d", hub.Count(), metrics.Broadcasts().Reaped)
	}
}

func TestHubSendControlFrame(t *testing.T) {
	hub, fake, _ := newTestHub(0)
	conn := newFakeConn()
	o := hub.Subscribe(conn, 0, "")

	frame, _ := Encode(MessagePong, nil, fake.Now())
	if !hub.Send(o.Handle(), frame) {
		t.Fatal("Send returned false")
	}
	conn.waitWrites(t, 1)
	if hub.Send("missing", frame) {
		t.Fatal("Send to unknown handle should fail")
	}
}
