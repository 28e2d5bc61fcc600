package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/presence-service/internal/domain"
)

// MemorySessionRepository keeps sessions in process memory. Closed sessions
// stay in the table as history. Each mutation is one critical section under
// mu with no I/O inside, so it is atomic for its user and held only for a
// few map operations.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]*domain.Session
	active   map[int64]int64 // user id -> session id
}

// NewMemorySessionRepository returns an empty in-memory session store.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[int64]*domain.Session),
		active:   make(map[int64]int64),
	}
}

func (r *MemorySessionRepository) Open(ctx context.Context, userID int64, statusID int, at time.Time, info domain.ConnectInfo) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevID, ok := r.active[userID]; ok {
		prev := r.sessions[prevID]
		closedAt := at
		prev.IsActive = false
		prev.DisconnectedAt = &closedAt
		delete(r.active, userID)
	}

	r.nextID++
	session := &domain.Session{
		ID:            r.nextID,
		UserID:        userID,
		StatusID:      statusID,
		ConnectedAt:   at,
		SourceAddress: info.SourceAddress,
		DeviceName:    info.DeviceName,
		IsActive:      true,
	}
	r.sessions[session.ID] = session
	r.active[userID] = session.ID

	out := *session
	return &out, nil
}

func (r *MemorySessionRepository) Close(ctx context.Context, userID int64, at time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.active[userID]
	if !ok {
		return nil, nil
	}
	session := r.sessions[id]
	closedAt := at
	session.IsActive = false
	session.DisconnectedAt = &closedAt
	delete(r.active, userID)

	out := *session
	return &out, nil
}

func (r *MemorySessionRepository) UpdateStatus(ctx context.Context, userID int64, statusID int) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.active[userID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	session := r.sessions[id]
	session.StatusID = statusID

	out := *session
	return &out, nil
}

func (r *MemorySessionRepository) GetActive(ctx context.Context, userID int64) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[userID]
	if !ok {
		return nil, nil
	}
	out := *r.sessions[id]
	return &out, nil
}

func (r *MemorySessionRepository) ListActive(ctx context.Context) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	result := make([]domain.Session, 0, len(r.active))
	for _, id := range r.active {
		result = append(result, *r.sessions[id])
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ConnectedAt.Before(result[j].ConnectedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *MemorySessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var result []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			result = append(result, *s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ConnectedAt.After(result[j].ConnectedAt)
		}
		return result[i].ID > result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MemoryUserRepository keeps users in process memory.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]domain.User
}

// NewMemoryUserRepository returns an empty in-memory user store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]domain.User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicate
		}
	}
	r.nextID++
	user.ID = r.nextID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Username, username) {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) ListByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			result[id] = user
		}
	}
	return result, nil
}

// MemoryStatusRepository keeps the status catalog in process memory.
type MemoryStatusRepository struct {
	mu       sync.RWMutex
	statuses map[int]domain.StatusDefinition
}

// NewMemoryStatusRepository returns a catalog holding the given statuses.
func NewMemoryStatusRepository(statuses ...domain.StatusDefinition) *MemoryStatusRepository {
	r := &MemoryStatusRepository{statuses: make(map[int]domain.StatusDefinition)}
	for _, s := range statuses {
		r.statuses[s.ID] = s
	}
	return r
}

func (r *MemoryStatusRepository) List(ctx context.Context) ([]domain.StatusDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	result := make([]domain.StatusDefinition, 0, len(r.statuses))
	for _, s := range r.statuses {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *MemoryStatusRepository) Seed(ctx context.Context, statuses []domain.StatusDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range statuses {
		if _, exists := r.statuses[s.ID]; !exists {
			r.statuses[s.ID] = s
		}
	}
	return nil
}
