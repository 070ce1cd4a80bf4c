package invites

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planhub/backend/internal/events"
)

// Status of an invite derived from its row at a point in time.
type Status string

const (
	StatusOK        Status = "ok"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusExhausted Status = "exhausted"
	StatusNotFound  Status = "not_found"
)

var ErrNotFound = errors.New("invite not found")

// Invite is a shareable join token for an event.
type Invite struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
	UsesCount int       `json:"uses_count"`
	IsRevoked bool      `json:"is_revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusAt derives the invite status at time t. Revocation wins over
// expiry, expiry over exhaustion.
func (i *Invite) StatusAt(t time.Time) Status {
	switch {
	case i.IsRevoked:
		return StatusRevoked
	case !i.ExpiresAt.After(t):
		return StatusExpired
	case i.MaxUses != 0 && i.UsesCount >= i.MaxUses:
		return StatusExhausted
	default:
		return StatusOK
	}
}

// UsesLeft returns the remaining uses, nil when unlimited. Never negative.
func (i *Invite) UsesLeft() *int {
	if i.MaxUses == 0 {
		return nil
	}
	left := i.MaxUses - i.UsesCount
	if left < 0 {
		left = 0
	}
	return &left
}

// newToken returns a URL-safe random token with 256 bits of entropy.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Store persists invites and performs the locked accept.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const inviteColumns = `id, event_id, token, expires_at, max_uses, uses_count, is_revoked, created_at`

func scanInvite(row pgx.Row) (*Invite, error) {
	var i Invite
	err := row.Scan(&i.ID, &i.EventID, &i.Token, &i.ExpiresAt, &i.MaxUses, &i.UsesCount, &i.IsRevoked, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

// Create inserts a new invite for the event.
func (s *Store) Create(ctx context.Context, eventID int64, expiresIn time.Duration, maxUses int) (*Invite, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	return scanInvite(s.pool.QueryRow(ctx,
		`INSERT INTO invites (event_id, token, expires_at, max_uses)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+inviteColumns,
		eventID, token, time.Now().UTC().Add(expiresIn), maxUses))
}

// GetByToken looks an invite up by its opaque token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Invite, error) {
	return scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE token = $1`, token))
}

// ListForEvent returns an event's invites, newest first.
func (s *Store) ListForEvent(ctx context.Context, eventID int64) ([]Invite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE event_id = $1 ORDER BY created_at DESC, id DESC`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := []Invite{}
	for rows.Next() {
		var i Invite
		if err := rows.Scan(&i.ID, &i.EventID, &i.Token, &i.ExpiresAt, &i.MaxUses,
			&i.UsesCount, &i.IsRevoked, &i.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, i)
	}
	return invites, rows.Err()
}

// Revoke marks the invite revoked. Idempotent.
func (s *Store) Revoke(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE invites SET is_revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptResult reports the outcome of an accept attempt.
type AcceptResult struct {
	// AlreadyMember is set when the caller already participates; the
	// uses counter is left untouched.
	AlreadyMember bool
	EventID       int64
	// Status is non-ok when the invite was unusable at accept time.
	Status Status
}

// Accept joins the caller to the invite's event. The invite row is locked
// for the duration, the status is re-derived under the lock and the uses
// counter increments atomically with the participant insert, so a
// max_uses=1 invite admits exactly one of two racing users.
func (s *Store) Accept(ctx context.Context, token string, userID int64) (*AcceptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	invite, err := scanInvite(tx.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE token = $1 FOR UPDATE`, token))
	if err != nil {
		return nil, err
	}

	var memberCount int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE event_id = $1 AND user_id = $2`,
		invite.EventID, userID).Scan(&memberCount); err != nil {
		return nil, err
	}
	if memberCount > 0 {
		return &AcceptResult{AlreadyMember: true, EventID: invite.EventID, Status: StatusOK}, nil
	}

	if status := invite.StatusAt(time.Now().UTC()); status != StatusOK {
		return &AcceptResult{EventID: invite.EventID, Status: status}, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO participants (event_id, user_id, role) VALUES ($1, $2, $3)`,
		invite.EventID, userID, events.RoleMember); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE invites SET uses_count = uses_count + 1 WHERE id = $1`, invite.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &AcceptResult{EventID: invite.EventID, Status: StatusOK}, nil
}
