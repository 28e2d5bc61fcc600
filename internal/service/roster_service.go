package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/repository"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

// RosterService projects active sessions into the denormalized roster.
// It only reads and is safe for concurrent use.
type RosterService struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	catalog  *StatusCatalog
	clock    clock.Clock
	logger   *zap.Logger
}

// RosterDependencies bundles collaborators for the roster projector.
type RosterDependencies struct {
	SessionRepo repository.SessionRepository
	UserRepo    repository.UserRepository
	Catalog     *StatusCatalog
	Clock       clock.Clock
	Logger      *zap.Logger
}

// NewRosterService constructs the projector.
func NewRosterService(deps RosterDependencies) *RosterService {
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		sessions: deps.SessionRepo,
		users:    deps.UserRepo,
		catalog:  deps.Catalog,
		clock:    c,
		logger:   logger,
	}
}

// Now reports the projector's clock, the same one used for minutesConnected.
func (r *RosterService) Now() time.Time { return r.clock.Now() }

// BuildSnapshot returns one entry per active session, earliest connection
// first. Ties on connectedAt fall back to session id.
func (r *RosterService) BuildSnapshot(ctx context.Context) (domain.RosterSnapshot, error) {
	active, err := r.sessions.ListActive(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if len(active) == 0 {
		return domain.RosterSnapshot{}, nil
	}

	ids := make([]int64, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.UserID)
	}
	users, err := r.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}

	now := r.clock.Now()
	snapshot := make(domain.RosterSnapshot, 0, len(active))
	for _, session := range active {
		user, ok := users[session.UserID]
		if !ok {
			r.logger.Warn("active session without user", zap.Int64("session_id", session.ID), zap.Int64("user_id", session.UserID))
			continue
		}
		status, ok, err := r.catalog.Lookup(ctx, session.StatusID)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Warn("active session with unknown status", zap.Int64("session_id", session.ID), zap.Int("status_id", session.StatusID))
			continue
		}
		snapshot = append(snapshot, projectEntry(session, user, status, now))
	}

	sort.SliceStable(snapshot, func(i, j int) bool {
		if !snapshot[i].ConnectedAt.Equal(snapshot[j].ConnectedAt) {
			return snapshot[i].ConnectedAt.Before(snapshot[j].ConnectedAt)
		}
		return snapshot[i].SessionID < snapshot[j].SessionID
	})
	return snapshot, nil
}

func projectEntry(session domain.Session, user domain.User, status domain.StatusDefinition, now time.Time) domain.RosterEntry {
	return domain.RosterEntry{
		UserID:           user.ID,
		FullName:         user.FullName,
		Email:            user.Email,
		Phone:            user.Phone,
		Role:             user.Role,
		Department:       user.Department,
		PhotoURL:         user.PhotoURL,
		SessionID:        session.ID,
		StatusID:         status.ID,
		Status:           status.Name,
		StatusColor:      status.Color,
		StatusIcon:       status.Icon,
		ConnectedAt:      session.ConnectedAt,
		SourceAddress:    session.SourceAddress,
		DeviceName:       session.DeviceName,
		MinutesConnected: minutesBetween(session.ConnectedAt, now),
	}
}

// minutesBetween returns whole elapsed minutes, never negative.
func minutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
