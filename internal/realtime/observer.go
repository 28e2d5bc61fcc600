package realtime

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

const (
	writeWait      = 10 * time.Second
	controlBacklog = 8
)

// Conn is the write side of an observer transport. *websocket.Conn from
// gofiber/contrib/websocket satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Handle identifies one subscription.
type Handle string

// Observer is one subscribed connection. Roster frames go through a
// single-slot queue so a slow reader only ever holds the newest snapshot.
type Observer struct {
	handle Handle
	userID int64
	conn   Conn
	state  *StateMachine

	roster  chan []byte
	control chan []byte
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once

	mu       sync.Mutex
	lastSeen time.Time
	groups   map[string]struct{}
}

func newObserver(handle Handle, userID int64, conn Conn, now time.Time) *Observer {
	return &Observer{
		handle:   handle,
		userID:   userID,
		conn:     conn,
		state:    NewStateMachine(nil),
		roster:   make(chan []byte, 1),
		control:  make(chan []byte, controlBacklog),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		lastSeen: now,
		groups:   make(map[string]struct{}),
	}
}

// Handle returns the subscription handle.
func (o *Observer) Handle() Handle { return o.handle }

// UserID is zero for anonymous observers.
func (o *Observer) UserID() int64 { return o.userID }

// State reports the connection lifecycle state.
func (o *Observer) State() State { return o.state.State() }

// Done is closed once the observer has been unsubscribed.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Wait blocks until the writer goroutine has released the connection.
func (o *Observer) Wait() { <-o.stopped }

// LastSeen returns the time of the last heartbeat.
func (o *Observer) LastSeen() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeen
}

// Groups lists the groups the observer joined.
func (o *Observer) Groups() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.groups))
	for g := range o.groups {
		out = append(out, g)
	}
	return out
}

func (o *Observer) touch(now time.Time) {
	o.mu.Lock()
	if now.After(o.lastSeen) {
		o.lastSeen = now
	}
	o.mu.Unlock()
}

// offerRoster queues frame, evicting an undelivered older one. It reports
// whether a pending frame was replaced.
func (o *Observer) offerRoster(frame []byte) (replaced bool) {
	for {
		select {
		case <-o.done:
			return replaced
		case o.roster <- frame:
			return replaced
		default:
		}
		select {
		case <-o.roster:
			replaced = true
		default:
		}
	}
}

// send queues a control frame, dropping it when the backlog is full.
func (o *Observer) send(frame []byte) bool {
	select {
	case <-o.done:
		return false
	case o.control <- frame:
		return true
	default:
		return false
	}
}

func (o *Observer) close() bool {
	closed := false
	o.closeOnce.Do(func() {
		close(o.done)
		_ = o.state.Transition(StateClosed)
		closed = true
	})
	return closed
}

// writeLoop owns all writes to the connection. onWritten is called after
// each delivered roster frame; onFailure when a write fails.
func (o *Observer) writeLoop(pingInterval time.Duration, onWritten func(), onFailure func(error)) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer close(o.stopped)
	defer o.conn.Close()

	for {
		select {
		case <-o.done:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = o.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-o.roster:
			if err := o.write(websocket.TextMessage, frame); err != nil {
				onFailure(err)
				return
			}
			onWritten()
		case frame := <-o.control:
			if err := o.write(websocket.TextMessage, frame); err != nil {
				onFailure(err)
				return
			}
		case <-tick:
			if err := o.write(websocket.PingMessage, nil); err != nil {
				onFailure(err)
				return
			}
		}
	}
}

func (o *Observer) write(messageType int, data []byte) error {
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteMessage(messageType, data)
}
