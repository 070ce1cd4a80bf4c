package events

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

func seedUser(t *testing.T, pool *pgxpool.Pool, tag string) int64 {
	t.Helper()
	var id int64
	email := fmt.Sprintf("%s-%d@test.local", tag, time.Now().UnixNano())
	if err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash, is_active) VALUES ($1, 'x', TRUE) RETURNING id`,
		email).Scan(&id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// Two organizers demote each other at the same time. Without the event
// row lock both transactions count the other organizer as remaining and
// the event ends up with none.
func TestUpdateRole_ConcurrentDemotionsKeepAnOrganizer(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()

	owner := seedUser(t, pool, "owner")
	second := seedUser(t, pool, "second")

	var eventID int64
	if err := pool.QueryRow(ctx,
		`INSERT INTO events (owner_id, title) VALUES ($1, 'demotion race') RETURNING id`,
		owner).Scan(&eventID); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	seedOrganizer := func(userID int64) int64 {
		var id int64
		if err := pool.QueryRow(ctx,
			`INSERT INTO participants (event_id, user_id, role) VALUES ($1, $2, 'organizer') RETURNING id`,
			eventID, userID).Scan(&id); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
		return id
	}
	p1 := seedOrganizer(owner)
	p2 := seedOrganizer(second)

	targets := []int64{p1, p2}
	callers := []int64{second, owner}
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.UpdateRole(ctx, eventID, targets[i], callers[i], RoleMember)
		}(i)
	}
	wg.Wait()

	var organizers int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE event_id = $1 AND role = 'organizer'`,
		eventID).Scan(&organizers); err != nil {
		t.Fatalf("count organizers: %v", err)
	}
	if organizers < 1 {
		t.Fatalf("no organizer left after concurrent demotions (errs: %v, %v)", errs[0], errs[1])
	}
	if errs[0] == nil && errs[1] == nil {
		t.Error("expected the second demotion to be rejected")
	}
}
