package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/persistence"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PRESENCE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRESENCE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := persistence.RunMigrations(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := NewStatusRepository(pool).Seed(ctx, domain.DefaultStatuses()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return pool
}

func createTestUser(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	name := fmt.Sprintf("user-%d", time.Now().UnixNano())
	user := &domain.User{Username: name, Email: name + "@example.com", FullName: name, PasswordHash: "x", Active: true}
	if err := NewUserRepository(pool).Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func TestSessionRepository_Postgres_ConcurrentOpen(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewSessionRepository(pool)
	userID := createTestUser(t, pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Open(ctx, userID, 1, time.Now().UTC(), domain.ConnectInfo{}); err != nil {
				t.Errorf("Open: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := repo.ListByUser(ctx, userID, 100)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	active := 0
	for _, s := range history {
		if s.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active sessions = %d, want 1", active)
	}
}

func TestSessionRepository_Postgres_Lifecycle(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewSessionRepository(pool)
	userID := createTestUser(t, pool)
	ctx := context.Background()

	opened, err := repo.Open(ctx, userID, 1, time.Now().UTC(), domain.ConnectInfo{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	updated, err := repo.UpdateStatus(ctx, userID, 2)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.ID != opened.ID || updated.StatusID != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	closed, err := repo.Close(ctx, userID, time.Now().UTC())
	if err != nil || closed == nil || closed.IsActive {
		t.Fatalf("Close = (%+v, %v)", closed, err)
	}
	again, err := repo.Close(ctx, userID, time.Now().UTC())
	if err != nil || again != nil {
		t.Fatalf("second Close = (%+v, %v), want (nil, nil)", again, err)
	}
	if _, err := repo.UpdateStatus(ctx, userID, 2); err != ErrNoActiveSession {
		t.Fatalf("UpdateStatus after close err = %v", err)
	}
}
