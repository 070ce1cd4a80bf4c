package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxTextLen = 4000
	// minInterval is the per-author-per-event send rate limit. It is
	// derived from the author's last stored message so it survives
	// process restarts.
	minInterval = 800 * time.Millisecond

	defaultPageSize = 30
	maxPageSize     = 100
)

var (
	ErrNotFound = errors.New("message not found")
	// ErrRateLimited is returned when the author sent another message
	// less than minInterval ago.
	ErrRateLimited = errors.New("sending too fast")
	ErrEmptyText   = errors.New("text must not be empty")
	ErrTextTooLong = errors.New("text is too long")
)

// Message is one chat entry. The DTO is viewer-agnostic so the same shape
// serves HTTP responses and broadcasts.
type Message struct {
	ID         int64      `json:"id"`
	EventID    int64      `json:"event_id"`
	AuthorID   int64      `json:"author"`
	AuthorName string     `json:"author_name"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at"`
}

// Store persists chat messages.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const messageSelect = `
	SELECT m.id, m.event_id, m.author_id, COALESCE(u.name, u.email), m.text, m.created_at, m.edited_at
	FROM messages m
	JOIN users u ON u.id = m.author_id`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.EventID, &m.AuthorID, &m.AuthorName, &m.Text, &m.CreatedAt, &m.EditedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// validateText trims and bounds a message body. The limit counts runes,
// not bytes, so multibyte scripts get the same budget as ASCII.
func validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > maxTextLen {
		return "", ErrTextTooLong
	}
	return text, nil
}

// Send validates, rate-limits against the author's last message and
// inserts.
func (s *Store) Send(ctx context.Context, eventID, authorID int64, text string) (*Message, error) {
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}

	var last time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT created_at FROM messages
		 WHERE event_id = $1 AND author_id = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		eventID, authorID).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err == nil && time.Since(last) < minInterval {
		return nil, ErrRateLimited
	}

	var id int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (event_id, author_id, text) VALUES ($1, $2, $3) RETURNING id`,
		eventID, authorID, text).Scan(&id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id int64) (*Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
}

// ListParams paginates chronologically with optional id cursors.
type ListParams struct {
	BeforeID int64
	AfterID  int64
	PageSize int
}

// List returns messages ascending by (created_at, id). before_id pages
// backwards: it fetches the page immediately preceding the cursor and
// emits it in chronological order.
func (s *Store) List(ctx context.Context, eventID int64, params ListParams) ([]Message, error) {
	size := params.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var rows pgx.Rows
	var err error
	reversed := false
	switch {
	case params.BeforeID > 0:
		reversed = true
		rows, err = s.pool.Query(ctx,
			messageSelect+`
			 WHERE m.event_id = $1
			   AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $3`,
			eventID, params.BeforeID, size)
	case params.AfterID > 0:
		rows, err = s.pool.Query(ctx,
			messageSelect+`
			 WHERE m.event_id = $1
			   AND (m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = $2)
			 ORDER BY m.created_at ASC, m.id ASC LIMIT $3`,
			eventID, params.AfterID, size)
	default:
		rows, err = s.pool.Query(ctx,
			messageSelect+`
			 WHERE m.event_id = $1
			 ORDER BY m.created_at ASC, m.id ASC LIMIT $2`,
			eventID, size)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if reversed {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// Delete removes one message.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
