package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/repository"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

// PresenceService is the presence state machine. It is the only writer of
// session rows; every committed mutation emits exactly one presence event.
type PresenceService struct {
	sessions        repository.SessionRepository
	catalog         *StatusCatalog
	dispatcher      events.Dispatcher
	clock           clock.Clock
	logger          *zap.Logger
	defaultStatusID int
}

// PresenceDependencies bundles collaborators for the presence service.
type PresenceDependencies struct {
	SessionRepo     repository.SessionRepository
	Catalog         *StatusCatalog
	Dispatcher      events.Dispatcher
	Clock           clock.Clock
	Logger          *zap.Logger
	DefaultStatusID int
}

// NewPresenceService constructs the service.
func NewPresenceService(deps PresenceDependencies) *PresenceService {
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{
		sessions:        deps.SessionRepo,
		catalog:         deps.Catalog,
		dispatcher:      deps.Dispatcher,
		clock:           c,
		logger:          logger,
		defaultStatusID: deps.DefaultStatusID,
	}
}

// Connect opens a new session in the default status. An already-active
// session for the user is closed first, so duplicate connects (two tabs)
// never leave two active rows.
func (s *PresenceService) Connect(ctx context.Context, userID int64, info domain.ConnectInfo) (*domain.Session, error) {
	if err := s.catalog.Require(ctx, s.defaultStatusID); err != nil {
		return nil, err
	}

	session, err := s.sessions.Open(ctx, userID, s.defaultStatusID, s.clock.Now(), info)
	if err != nil {
		s.logger.Error("connect failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, apperrors.NewStoreUnavailable(err)
	}

	s.logger.Info("user connected",
		zap.Int64("user_id", userID),
		zap.Int64("session_id", session.ID),
		zap.Int("status_id", session.StatusID))
	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionConnected,
		UserID:    userID,
		SessionID: session.ID,
		Payload: events.SessionConnectedPayload{
			StatusID:      session.StatusID,
			SourceAddress: session.SourceAddress,
			DeviceName:    session.DeviceName,
		},
	})
	return session, nil
}

// Disconnect closes the active session. Calling it without an active
// session succeeds and changes nothing; the returned session is nil then.
func (s *PresenceService) Disconnect(ctx context.Context, userID int64) (*domain.Session, error) {
	closed, err := s.sessions.Close(ctx, userID, s.clock.Now())
	if err != nil {
		s.logger.Error("disconnect failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, apperrors.NewStoreUnavailable(err)
	}

	event := events.Event{Type: events.EventSessionDisconnected, UserID: userID}
	if closed != nil {
		event.SessionID = closed.ID
		s.logger.Info("user disconnected", zap.Int64("user_id", userID), zap.Int64("session_id", closed.ID))
	} else {
		s.logger.Debug("disconnect without active session", zap.Int64("user_id", userID))
	}
	s.publishEvent(ctx, event)
	return closed, nil
}

// ChangeStatus relabels the user's active session in place. The motive is
// logged only.
func (s *PresenceService) ChangeStatus(ctx context.Context, userID int64, statusID int, motive *string) (*domain.Session, error) {
	if err := s.catalog.Require(ctx, statusID); err != nil {
		return nil, err
	}

	session, err := s.sessions.UpdateStatus(ctx, userID, statusID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveSession) {
			return nil, apperrors.NewNoActiveSession(userID)
		}
		s.logger.Error("change status failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, apperrors.NewStoreUnavailable(err)
	}

	fields := []zap.Field{
		zap.Int64("user_id", userID),
		zap.Int64("session_id", session.ID),
		zap.Int("status_id", statusID),
	}
	if motive != nil {
		fields = append(fields, zap.String("motive", *motive))
	}
	s.logger.Info("status changed", fields...)
	s.publishEvent(ctx, events.Event{
		Type:      events.EventStatusChanged,
		UserID:    userID,
		SessionID: session.ID,
		Payload:   events.StatusChangedPayload{StatusID: statusID, Motive: motive},
	})
	return session, nil
}

// GetActiveSession returns the user's open session, or nil when disconnected.
func (s *PresenceService) GetActiveSession(ctx context.Context, userID int64) (*domain.Session, error) {
	session, err := s.sessions.GetActive(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return session, nil
}

// SessionHistory returns the user's most recent sessions, newest first.
func (s *PresenceService) SessionHistory(ctx context.Context, userID int64, limit int) ([]domain.Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return sessions, nil
}

func (s *PresenceService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
