package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/presence-service/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestMemorySessionRepository_OpenClosesPrevious(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	first, err := repo.Open(ctx, 1, 1, t0, domain.ConnectInfo{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, err := repo.Open(ctx, 1, 1, t0.Add(time.Minute), domain.ConnectInfo{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("second connect must create a new session row")
	}

	history, err := repo.ListByUser(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	old := history[1]
	if old.ID != first.ID || old.IsActive {
		t.Fatalf("first session should be inactive: %+v", old)
	}
	if old.DisconnectedAt == nil || !old.DisconnectedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("first session disconnectedAt = %v", old.DisconnectedAt)
	}
}

func TestMemorySessionRepository_ConcurrentOpenKeepsOneActive(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.Open(ctx, 42, 1, t0.Add(time.Duration(i)*time.Second), domain.ConnectInfo{}); err != nil {
				t.Errorf("Open: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := repo.ListByUser(ctx, 42, 100)
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
	if len(history) != 64 {
		t.Fatalf("history len = %d, want 64", len(history))
	}
}

func TestMemorySessionRepository_MixedMutationsAcrossUsers(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for user := int64(1); user <= 16; user++ {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(user int64, i int) {
				defer wg.Done()
				at := t0.Add(time.Duration(i) * time.Second)
				switch i % 4 {
				case 0, 1:
					_, _ = repo.Open(ctx, user, 1, at, domain.ConnectInfo{})
				case 2:
					_, _ = repo.UpdateStatus(ctx, user, 2)
				case 3:
					_, _ = repo.Close(ctx, user, at)
				}
			}(user, i)
		}
	}
	wg.Wait()

	for user := int64(1); user <= 16; user++ {
		history, err := repo.ListByUser(ctx, user, 100)
		if err != nil {
			t.Fatalf("ListByUser(%d): %v", user, err)
		}
		active := 0
		for _, s := range history {
			if s.IsActive {
				active++
			}
			if s.UserID != user {
				t.Fatalf("user %d history holds %+v", user, s)
			}
		}
		if active > 1 {
			t.Fatalf("user %d has %d active sessions", user, active)
		}
		current, _ := repo.GetActive(ctx, user)
		if (current != nil) != (active == 1) {
			t.Fatalf("user %d: GetActive = %+v, active rows = %d", user, current, active)
		}
	}
}

func TestMemorySessionRepository_CloseAndUpdate(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	closed, err := repo.Close(ctx, 5, t0)
	if err != nil || closed != nil {
		t.Fatalf("Close without session = (%v, %v), want (nil, nil)", closed, err)
	}
	if _, err := repo.UpdateStatus(ctx, 5, 2); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("UpdateStatus err = %v, want ErrNoActiveSession", err)
	}

	opened, _ := repo.Open(ctx, 5, 1, t0, domain.ConnectInfo{})
	updated, err := repo.UpdateStatus(ctx, 5, 2)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.ID != opened.ID || updated.StatusID != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	closed, err = repo.Close(ctx, 5, t0.Add(time.Hour))
	if err != nil || closed == nil || closed.IsActive {
		t.Fatalf("Close = (%+v, %v)", closed, err)
	}
	active, _ := repo.GetActive(ctx, 5)
	if active != nil {
		t.Fatalf("GetActive after close = %+v", active)
	}
}

func TestMemorySessionRepository_ListActiveOrdered(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	_, _ = repo.Open(ctx, 3, 1, t0.Add(2*time.Minute), domain.ConnectInfo{})
	_, _ = repo.Open(ctx, 1, 1, t0, domain.ConnectInfo{})
	_, _ = repo.Open(ctx, 2, 1, t0.Add(time.Minute), domain.ConnectInfo{})

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	for i, want := range []int64{1, 2, 3} {
		if active[i].UserID != want {
			t.Fatalf("position %d user = %d, want %d", i, active[i].UserID, want)
		}
	}
}

func TestMemorySessionRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	s, _ := repo.Open(ctx, 9, 1, t0, domain.ConnectInfo{})
	s.StatusID = 99

	active, _ := repo.GetActive(ctx, 9)
	if active.StatusID != 1 {
		t.Fatal("callers must not be able to mutate stored sessions")
	}
}

func TestMemoryUserRepository(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	ana := &domain.User{Username: "ana", Email: "ana@example.com", FullName: "Ana"}
	if err := repo.Create(ctx, ana); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ana.ID == 0 {
		t.Fatal("Create should assign an id")
	}
	if err := repo.Create(ctx, &domain.User{Username: "ANA", Email: "other@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username err = %v", err)
	}

	got, err := repo.GetByUsername(ctx, "ana")
	if err != nil || got.ID != ana.ID {
		t.Fatalf("GetByUsername = (%+v, %v)", got, err)
	}
	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID unknown err = %v", err)
	}

	byID, err := repo.ListByIDs(ctx, []int64{ana.ID, 999})
	if err != nil {
		t.Fatalf("ListByIDs: %v", err)
	}
	if len(byID) != 1 {
		t.Fatalf("ListByIDs len = %d, want 1", len(byID))
	}
}

func TestMemoryStatusRepository_SeedKeepsExisting(t *testing.T) {
	repo := NewMemoryStatusRepository(domain.StatusDefinition{ID: 1, Name: "Online", DisplayOrder: 5})
	ctx := context.Background()

	if err := repo.Seed(ctx, domain.DefaultStatuses()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	list, _ := repo.List(ctx)
	if len(list) != 4 {
		t.Fatalf("len = %d, want 4", len(list))
	}
	if list[len(list)-1].Name != "Online" {
		t.Fatalf("existing status 1 should keep its name and order, got %+v", list[len(list)-1])
	}
}
