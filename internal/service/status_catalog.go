package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/repository"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

// StatusCatalog caches the read-mostly list of allowed presence statuses.
type StatusCatalog struct {
	repo   repository.StatusRepository
	logger *zap.Logger

	mu       sync.RWMutex
	loaded   bool
	statuses []domain.StatusDefinition
	byID     map[int]domain.StatusDefinition
}

// NewStatusCatalog creates the catalog. Nothing is read until Load or first use.
func NewStatusCatalog(repo repository.StatusRepository, logger *zap.Logger) *StatusCatalog {
	return &StatusCatalog{repo: repo, logger: logger}
}

// EnsureSeeded inserts defaults when the stored catalog is empty, then loads it.
func (c *StatusCatalog) EnsureSeeded(ctx context.Context, defaults []domain.StatusDefinition) error {
	existing, err := c.repo.List(ctx)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	if len(existing) == 0 && len(defaults) > 0 {
		if err := c.repo.Seed(ctx, defaults); err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
		c.logger.Info("seeded status catalog", zap.Int("count", len(defaults)))
	}
	return c.Load(ctx)
}

// Load replaces the cached catalog with the stored one.
func (c *StatusCatalog) Load(ctx context.Context) error {
	statuses, err := c.repo.List(ctx)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}

	byID := make(map[int]domain.StatusDefinition, len(statuses))
	for _, s := range statuses {
		byID[s.ID] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.byID = byID
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// List returns the statuses sorted by display order.
func (c *StatusCatalog) List(ctx context.Context) ([]domain.StatusDefinition, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.StatusDefinition(nil), c.statuses...), nil
}

// Lookup finds a status by id.
func (c *StatusCatalog) Lookup(ctx context.Context, id int) (domain.StatusDefinition, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return domain.StatusDefinition{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok, nil
}

// Require returns INVALID_STATUS when id is not in the catalog and the
// store error when the catalog could not be read.
func (c *StatusCatalog) Require(ctx context.Context, id int) error {
	_, ok, err := c.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewInvalidStatus(id)
	}
	return nil
}

func (c *StatusCatalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Load(ctx)
}
