// Package client implements a roster observer that keeps a websocket
// subscription alive and pulls the full roster every time it (re)connects.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/realtime"
)

// Config describes where and how to observe.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8080.
	BaseURL      string
	Token        string
	Group        string
	Schedule     []time.Duration
	PingInterval time.Duration
	PullTimeout  time.Duration
}

// RosterSource tells the handler whether a roster came from a push or a pull.
type RosterSource string

const (
	SourcePush RosterSource = "push"
	SourcePull RosterSource = "pull"
)

// RosterHandler receives every roster the client learns about.
type RosterHandler func(source RosterSource, snapshot domain.RosterSnapshot)

type frameConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// pulledRoster is a roster read over HTTP. GeneratedAt is the server time the
// read started; zero when the server did not report it.
type pulledRoster struct {
	Snapshot    domain.RosterSnapshot
	GeneratedAt time.Time
}

// Client is a reconnecting observer.
type Client struct {
	cfg      Config
	logger   *zap.Logger
	onRoster RosterHandler
	state    *realtime.StateMachine
	backoff  *Backoff

	dial  func(ctx context.Context) (frameConn, error)
	pull  func(ctx context.Context) (pulledRoster, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client. onStateChange may be nil.
func New(cfg Config, logger *zap.Logger, onRoster RosterHandler, onStateChange func(from, to realtime.State)) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		logger:   logger,
		onRoster: onRoster,
		state:    realtime.NewStateMachine(onStateChange),
		backoff:  NewBackoff(cfg.Schedule),
		sleep:    sleepContext,
	}
	c.dial = c.dialWebsocket
	c.pull = c.pullRoster
	return c
}

// State reports the connection lifecycle state.
func (c *Client) State() realtime.State { return c.state.State() }

// Run keeps the subscription alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer func() { _ = c.state.Transition(realtime.StateClosed) }()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("observer dial failed", zap.Int("attempt", c.backoff.Attempt()+1), zap.Error(err))
			if err := c.wait(ctx); err != nil {
				return nil
			}
			continue
		}

		if err := c.session(ctx, conn); err != nil && ctx.Err() == nil {
			c.logger.Warn("observer connection lost", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		_ = c.state.Transition(realtime.StateReconnecting)
		if err := c.wait(ctx); err != nil {
			return nil
		}
	}
}

func (c *Client) wait(ctx context.Context) error {
	delay := c.backoff.Next()
	if delay > 0 {
		c.logger.Info("observer reconnecting", zap.Duration("delay", delay))
	}
	return c.sleep(ctx, delay)
}

// session runs one connection: pull first, then consume pushes. The backoff
// only resets once the pull succeeded, so a hub that accepts sockets while
// the roster endpoint fails still sees escalating delays.
func (c *Client) session(ctx context.Context, conn frameConn) error {
	if err := c.state.Transition(realtime.StateConnected); err != nil {
		_ = conn.Close()
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = conn.Close()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = conn.Close()
	}()

	pulled, err := c.pull(connCtx)
	if err != nil {
		return fmt.Errorf("pull roster: %w", err)
	}
	c.deliver(SourcePull, pulled.Snapshot)
	c.backoff.Reset()

	if c.cfg.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.heartbeat(connCtx, conn)
		}()
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var head struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(frame, &head); err != nil {
			c.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		if head.Type != realtime.MessageRosterUpdated {
			continue
		}
		// Pushes queued on the socket before the pull are older than it.
		if !pulled.GeneratedAt.IsZero() && time.UnixMilli(head.Timestamp).Before(pulled.GeneratedAt) {
			c.logger.Debug("dropping roster older than pull", zap.Int64("timestamp", head.Timestamp))
			continue
		}
		snapshot, err := realtime.DecodeRoster(frame)
		if err != nil {
			c.logger.Debug("ignoring malformed roster", zap.Error(err))
			continue
		}
		c.deliver(SourcePush, snapshot)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn frameConn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(realtime.InboundMessage{Type: realtime.MessagePing})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

func (c *Client) deliver(source RosterSource, snapshot domain.RosterSnapshot) {
	if c.onRoster != nil {
		c.onRoster(source, snapshot)
	}
}

// HubURL returns the websocket endpoint derived from BaseURL.
func (c *Client) HubURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/hubs/presence"
	q := url.Values{}
	if c.cfg.Token != "" {
		q.Set("access_token", c.cfg.Token)
	}
	if c.cfg.Group != "" {
		q.Set("group", c.cfg.Group)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dialWebsocket(ctx context.Context) (frameConn, error) {
	target, err := c.HubURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) pullRoster(ctx context.Context) (pulledRoster, error) {
	agent := fiber.Get(strings.TrimRight(c.cfg.BaseURL, "/") + "/api/presence/roster")
	timeout := c.cfg.PullTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	agent.Timeout(timeout)
	if c.cfg.Token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.Token)
	}
	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	agent.SetResponse(resp)

	var body struct {
		Success bool                  `json:"success"`
		Message string                `json:"message"`
		Data    domain.RosterSnapshot `json:"data"`
	}
	status, _, errs := agent.Struct(&body)
	if len(errs) > 0 {
		return pulledRoster{}, errors.Join(errs...)
	}
	if status != fiber.StatusOK || !body.Success {
		return pulledRoster{}, fmt.Errorf("roster request failed: status %d: %s", status, body.Message)
	}

	pulled := pulledRoster{Snapshot: body.Data}
	if raw := string(resp.Header.Peek(realtime.HeaderRosterTimestamp)); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			pulled.GeneratedAt = time.UnixMilli(ms)
		}
	}
	return pulled, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
