package board

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// testPool connects to TEST_DATABASE_URL, or skips the test. The schema
// must be migrated beforehand.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedEvent(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	ctx := context.Background()

	var userID int64
	email := fmt.Sprintf("board-%d@test.local", time.Now().UnixNano())
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, is_active) VALUES ($1, 'x', TRUE) RETURNING id`,
		email).Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	var eventID int64
	if err := pool.QueryRow(ctx,
		`INSERT INTO events (owner_id, title) VALUES ($1, 'append race') RETURNING id`,
		userID).Scan(&eventID); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return eventID
}

func TestCreateList_ConcurrentAppendsGetDistinctOrders(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	eventID := seedEvent(t, pool)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.CreateList(ctx, eventID, fmt.Sprintf("list %d", i)); err != nil {
				t.Errorf("create list: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var total, distinct int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT "order") FROM task_lists WHERE event_id = $1`,
		eventID).Scan(&total, &distinct); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if total != n || distinct != n {
		t.Errorf("expected %d lists with distinct orders, got %d lists and %d orders", n, total, distinct)
	}
}

func TestCreateTask_ConcurrentAppendsGetDistinctOrders(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	eventID := seedEvent(t, pool)

	list, err := store.CreateList(ctx, eventID, "backlog")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.CreateTask(ctx, list.ID, TaskInput{Title: fmt.Sprintf("task %d", i)}); err != nil {
				t.Errorf("create task: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var total, distinct int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT "order") FROM tasks WHERE list_id = $1`,
		list.ID).Scan(&total, &distinct); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if total != n || distinct != n {
		t.Errorf("expected %d tasks with distinct orders, got %d tasks and %d orders", n, total, distinct)
	}
}
