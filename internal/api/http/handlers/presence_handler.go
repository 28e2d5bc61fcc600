package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/presence-service/internal/api/dto"
	"github.com/spec-kit/presence-service/internal/auth"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/realtime"
	"github.com/spec-kit/presence-service/internal/service"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

const defaultHistoryLimit = 20

// PresenceHandler exposes the presence operations.
type PresenceHandler struct {
	presence *service.PresenceService
	roster   *service.RosterService
	catalog  *service.StatusCatalog
}

// NewPresenceHandler constructs handler.
func NewPresenceHandler(presence *service.PresenceService, roster *service.RosterService, catalog *service.StatusCatalog) *PresenceHandler {
	return &PresenceHandler{presence: presence, roster: roster, catalog: catalog}
}

// Connect handles POST /api/presence/connect.
func (h *PresenceHandler) Connect(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req dto.ConnectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.SourceAddress == nil || *req.SourceAddress == "" {
		ip := c.IP()
		req.SourceAddress = &ip
	}

	session, err := h.presence.Connect(c.UserContext(), userID, domain.ConnectInfo{
		SourceAddress: req.SourceAddress,
		DeviceName:    req.DeviceName,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.OKMessage("connected", dto.ConnectResponse{SessionID: session.ID}))
}

// Disconnect handles POST /api/presence/disconnect.
func (h *PresenceHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if _, err := h.presence.Disconnect(c.UserContext(), userID); err != nil {
		return err
	}
	return c.JSON(dto.OKMessage("disconnected", nil))
}

// ChangeStatus handles PUT /api/presence/status.
func (h *PresenceHandler) ChangeStatus(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.StatusID == nil {
		return apperrors.NewValidationError("statusId is required", nil)
	}

	session, err := h.presence.ChangeStatus(c.UserContext(), userID, *req.StatusID, req.Motive)
	if err != nil {
		return err
	}
	return c.JSON(dto.OKMessage("status updated", session))
}

// Me handles GET /api/presence/me.
func (h *PresenceHandler) Me(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	session, err := h.presence.GetActiveSession(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if session == nil {
		return c.JSON(dto.Envelope{Success: false, Message: "no active session"})
	}
	return c.JSON(dto.OK(session))
}

// Sessions handles GET /api/presence/sessions.
func (h *PresenceHandler) Sessions(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)
	sessions, err := h.presence.SessionHistory(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return c.JSON(dto.OK(sessions))
}

// Roster handles GET /api/presence/roster. Anonymous callers are allowed.
// The read time goes out in a header so observers can discard older pushes.
func (h *PresenceHandler) Roster(c *fiber.Ctx) error {
	readAt := h.roster.Now()
	snapshot, err := h.roster.BuildSnapshot(c.UserContext())
	if err != nil {
		return err
	}
	c.Set(realtime.HeaderRosterTimestamp, strconv.FormatInt(readAt.UnixMilli(), 10))
	return c.JSON(dto.OK(snapshot))
}

// Statuses handles GET /api/presence/statuses.
func (h *PresenceHandler) Statuses(c *fiber.Ctx) error {
	statuses, err := h.catalog.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(dto.OK(statuses))
}

func requireUser(c *fiber.Ctx) (int64, error) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return 0, apperrors.NewUnauthenticated("authentication required")
	}
	return userID, nil
}
