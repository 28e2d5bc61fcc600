package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/presence-service/internal/domain"
)

// StatusRepository reads the presence status catalog.
type StatusRepository interface {
	// List returns every status ordered by display order.
	List(ctx context.Context) ([]domain.StatusDefinition, error)
	// Seed inserts the given statuses, keeping any that already exist.
	Seed(ctx context.Context, statuses []domain.StatusDefinition) error
}

type statusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository returns a Postgres-backed implementation.
func NewStatusRepository(pool *pgxpool.Pool) StatusRepository {
	return &statusRepository{pool: pool}
}

func (r *statusRepository) List(ctx context.Context) ([]domain.StatusDefinition, error) {
	const query = `
        SELECT id, name, color, icon, description, display_order
        FROM presence_statuses ORDER BY display_order ASC, id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StatusDefinition
	for rows.Next() {
		var status domain.StatusDefinition
		if err := rows.Scan(&status.ID, &status.Name, &status.Color, &status.Icon, &status.Description, &status.DisplayOrder); err != nil {
			return nil, err
		}
		result = append(result, status)
	}
	return result, rows.Err()
}

func (r *statusRepository) Seed(ctx context.Context, statuses []domain.StatusDefinition) error {
	const query = `
        INSERT INTO presence_statuses (id, name, color, icon, description, display_order)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, s := range statuses {
		batch.Queue(query, s.ID, s.Name, s.Color, s.Icon, s.Description, s.DisplayOrder)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
