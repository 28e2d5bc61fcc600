package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/auth"
	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/realtime"
)

const (
	observerUserKey = "observer_user_id"
	maxInboundBytes = 4 * 1024
)

// HubHandler upgrades observer connections and runs their read loop.
type HubHandler struct {
	hub         *realtime.Hub
	clock       clock.Clock
	logger      *zap.Logger
	readTimeout time.Duration
}

// NewHubHandler constructs handler. readTimeout is the heartbeat window.
func NewHubHandler(hub *realtime.Hub, c clock.Clock, logger *zap.Logger, readTimeout time.Duration) *HubHandler {
	if c == nil {
		c = clock.Real()
	}
	return &HubHandler{hub: hub, clock: c, logger: logger, readTimeout: readTimeout}
}

// Upgrade rejects plain HTTP requests and carries the optional caller identity.
func (h *HubHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if userID, ok := auth.UserIDFromContext(c); ok {
		c.Locals(observerUserKey, userID)
	}
	return c.Next()
}

// Serve returns the websocket endpoint.
func (h *HubHandler) Serve() fiber.Handler {
	return websocket.New(h.handle)
}

func (h *HubHandler) handle(conn *websocket.Conn) {
	userID, _ := conn.Locals(observerUserKey).(int64)
	o := h.hub.Subscribe(conn, userID, conn.Query("group"))
	handle := o.Handle()
	defer func() {
		h.hub.Unsubscribe(handle)
		o.Wait()
	}()

	h.reply(handle, realtime.MessageConnected, fiber.Map{"observerId": handle, "userId": userID})

	conn.SetReadLimit(maxInboundBytes)
	h.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		h.hub.Touch(handle)
		h.extendDeadline(conn)
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("observer read ended", zap.String("observer_id", string(handle)), zap.Error(err))
			}
			return
		}
		h.hub.Touch(handle)
		h.extendDeadline(conn)

		var msg realtime.InboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.reply(handle, realtime.MessageError, fiber.Map{"error": "invalid message"})
			continue
		}

		switch msg.Type {
		case realtime.MessagePing:
			h.reply(handle, realtime.MessagePong, nil)
		case realtime.MessageJoin:
			if msg.Group == "" || !h.hub.JoinGroup(handle, msg.Group) {
				h.reply(handle, realtime.MessageError, fiber.Map{"error": "group required"})
			}
		case realtime.MessageLeave:
			h.hub.LeaveGroup(handle, msg.Group)
		default:
			h.logger.Debug("unknown observer message", zap.String("observer_id", string(handle)), zap.String("type", msg.Type))
			h.reply(handle, realtime.MessageError, fiber.Map{"error": "unknown message type"})
		}
	}
}

func (h *HubHandler) reply(handle realtime.Handle, msgType string, data any) {
	frame, err := realtime.Encode(msgType, data, h.clock.Now())
	if err != nil {
		h.logger.Error("encode observer reply", zap.Error(err))
		return
	}
	h.hub.Send(handle, frame)
}

func (h *HubHandler) extendDeadline(conn *websocket.Conn) {
	if h.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}
