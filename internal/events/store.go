package events

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Role of a participant within an event.
type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleMember    Role = "member"
	// RoleNone is returned for users with no participant row.
	RoleNone Role = ""
)

var (
	ErrNotFound          = errors.New("not found")
	ErrLastOrganizer     = errors.New("last organizer")
	ErrSelfLastOrganizer = errors.New("self last organizer")
)

// Event is a group workspace owning a board, polls, chat and invites.
type Event struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Location    string     `json:"location"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	MyRole      Role       `json:"my_role,omitempty"`
}

// Participant links a user to an event with a role.
type Participant struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	AvatarURL *string   `json:"avatar_url"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Store provides event and participant persistence.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventColumns = `id, owner_id, title, description, category, location, start_at, end_at, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Category, &e.Location,
		&e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts the event and materializes the owner as an organizer
// participant in the same transaction.
func (s *Store) Create(ctx context.Context, ownerID int64, e *Event) (*Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := scanEvent(tx.QueryRow(ctx,
		`INSERT INTO events (owner_id, title, description, category, location, start_at, end_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+eventColumns,
		ownerID, e.Title, e.Description, e.Category, e.Location, e.StartAt, e.EndAt))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO participants (event_id, user_id, role) VALUES ($1, $2, $3)`,
		created.ID, ownerID, RoleOrganizer)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	created.MyRole = RoleOrganizer
	return created, nil
}

// Get returns the event by id.
func (s *Store) Get(ctx context.Context, id int64) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// ListForUser returns every event the user participates in, newest first,
// with MyRole populated.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.owner_id, e.title, e.description, e.category, e.location,
		        e.start_at, e.end_at, e.created_at, e.updated_at, p.role
		 FROM events e
		 JOIN participants p ON p.event_id = e.id AND p.user_id = $1
		 ORDER BY e.created_at DESC, e.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Category, &e.Location,
			&e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt, &e.MyRole); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Update persists the mutable event fields.
func (s *Store) Update(ctx context.Context, e *Event) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`UPDATE events
		 SET title = $2, description = $3, category = $4, location = $5,
		     start_at = $6, end_at = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+eventColumns,
		e.ID, e.Title, e.Description, e.Category, e.Location, e.StartAt, e.EndAt))
}

// Delete removes the event; the schema cascades to participants, invites,
// lists, tasks, polls and messages.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoleOf returns the user's role in the event, RoleNone when not a participant.
func (s *Store) RoleOf(ctx context.Context, eventID, userID int64) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM participants WHERE event_id = $1 AND user_id = $2`,
		eventID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return role, nil
}

// IsParticipant reports whether the user belongs to the event.
func (s *Store) IsParticipant(ctx context.Context, eventID, userID int64) (bool, error) {
	role, err := s.RoleOf(ctx, eventID, userID)
	if err != nil {
		return false, err
	}
	return role != RoleNone, nil
}

// ParticipantID returns the participant row id for (event, user).
func (s *Store) ParticipantID(ctx context.Context, eventID, userID int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM participants WHERE event_id = $1 AND user_id = $2`,
		eventID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// IsActiveUser reports whether the user exists and may authenticate.
func (s *Store) IsActiveUser(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// DisplayName returns the user's name, falling back to the email local part.
func (s *Store) DisplayName(ctx context.Context, userID int64) (string, error) {
	var name *string
	var email string
	err := s.pool.QueryRow(ctx,
		`SELECT name, email FROM users WHERE id = $1`, userID).Scan(&name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if name != nil && *name != "" {
		return *name, nil
	}
	return email, nil
}

// ParticipantListParams paginates and orders the participant listing.
type ParticipantListParams struct {
	Page     int
	PageSize int
	OrderBy  string // "name" or "role"
}

// ListParticipants returns one page of an event's participants plus the
// total count.
func (s *Store) ListParticipants(ctx context.Context, eventID int64, params ParticipantListParams) ([]Participant, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 25
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	order := `LOWER(COALESCE(u.name, u.email)) ASC, p.id ASC`
	if params.OrderBy == "role" {
		order = `p.role ASC, LOWER(COALESCE(u.name, u.email)) ASC, p.id ASC`
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE event_id = $1`, eventID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.event_id, p.user_id, COALESCE(u.name, u.email), u.email, u.avatar_url, p.role, p.created_at
		 FROM participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.event_id = $1
		 ORDER BY `+order+`
		 LIMIT $2 OFFSET $3`,
		eventID, params.PageSize, (params.Page-1)*params.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	participants := []Participant{}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.EventID, &p.UserID, &p.UserName, &p.UserEmail,
			&p.AvatarURL, &p.Role, &p.JoinedAt); err != nil {
			return nil, 0, err
		}
		participants = append(participants, p)
	}
	return participants, total, rows.Err()
}

// UpdateRole changes a participant's role. Demoting the sole organizer of
// the event is rejected; the event row is locked first so concurrent
// demotions serialize and cannot each see the other organizer as
// remaining.
func (s *Store) UpdateRole(ctx context.Context, eventID, participantID, callerUserID int64, role Role) (*Participant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.lockEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	var target struct {
		userID int64
		role   Role
	}
	err = tx.QueryRow(ctx,
		`SELECT user_id, role FROM participants WHERE id = $1 AND event_id = $2 FOR UPDATE`,
		participantID, eventID).Scan(&target.userID, &target.role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if target.role == RoleOrganizer && role != RoleOrganizer {
		sole, err := s.isSoleOrganizer(ctx, tx, eventID, participantID)
		if err != nil {
			return nil, err
		}
		if sole {
			return nil, lastOrganizerError(target.userID, callerUserID)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE participants SET role = $3 WHERE id = $1 AND event_id = $2`,
		participantID, eventID, role); err != nil {
		return nil, err
	}

	var p Participant
	err = tx.QueryRow(ctx,
		`SELECT p.id, p.event_id, p.user_id, COALESCE(u.name, u.email), u.email, u.avatar_url, p.role, p.created_at
		 FROM participants p JOIN users u ON u.id = p.user_id
		 WHERE p.id = $1`, participantID).
		Scan(&p.ID, &p.EventID, &p.UserID, &p.UserName, &p.UserEmail, &p.AvatarURL, &p.Role, &p.JoinedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

// RemoveParticipant deletes a participant row. The last organizer cannot
// be removed. Task assignments referencing the participant are set to NULL
// by the schema.
func (s *Store) RemoveParticipant(ctx context.Context, eventID, participantID, callerUserID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.lockEvent(ctx, tx, eventID); err != nil {
		return err
	}

	var target struct {
		userID int64
		role   Role
	}
	err = tx.QueryRow(ctx,
		`SELECT user_id, role FROM participants WHERE id = $1 AND event_id = $2 FOR UPDATE`,
		participantID, eventID).Scan(&target.userID, &target.role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if target.role == RoleOrganizer {
		sole, err := s.isSoleOrganizer(ctx, tx, eventID, participantID)
		if err != nil {
			return err
		}
		if sole {
			return lastOrganizerError(target.userID, callerUserID)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM participants WHERE id = $1 AND event_id = $2`,
		participantID, eventID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lastOrganizerError distinguishes an organizer demoting themselves from
// a caller acting on someone else's row.
func lastOrganizerError(targetUserID, callerUserID int64) error {
	if targetUserID == callerUserID {
		return ErrSelfLastOrganizer
	}
	return ErrLastOrganizer
}

// lockEvent takes the event row lock that serializes participant
// mutations within one event.
func (s *Store) lockEvent(ctx context.Context, tx pgx.Tx, eventID int64) error {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isSoleOrganizer reports whether no organizer other than participantID
// remains. Callers must hold the event row lock; the count alone is not
// race-safe.
func (s *Store) isSoleOrganizer(ctx context.Context, tx pgx.Tx, eventID, participantID int64) (bool, error) {
	var others int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants
		 WHERE event_id = $1 AND role = $2 AND id <> $3`,
		eventID, RoleOrganizer, participantID).Scan(&others)
	if err != nil {
		return false, err
	}
	return others == 0, nil
}
