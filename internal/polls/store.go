package polls

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists polls, options and votes. Version bumps and vote set
// changes run under row locks on the poll and the caller's vote rows.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const pollColumns = `id, event_id, type, question, multiple, allow_change_vote, is_closed, end_at, version, created_by, created_at, updated_at`

func scanPoll(row pgx.Row) (*Poll, error) {
	var p Poll
	err := row.Scan(&p.ID, &p.EventID, &p.Type, &p.Question, &p.Multiple, &p.AllowChangeVote,
		&p.IsClosed, &p.EndAt, &p.Version, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateInput carries a poll create request.
type CreateInput struct {
	Type            string        `json:"type"`
	Question        string        `json:"question"`
	Multiple        bool          `json:"multiple"`
	AllowChangeVote bool          `json:"allow_change_vote"`
	EndAt           *time.Time    `json:"end_at"`
	Options         []OptionInput `json:"options"`
}

// Create inserts the poll at version 1 together with its options.
func (s *Store) Create(ctx context.Context, eventID, createdBy int64, in CreateInput) (*Poll, error) {
	if in.Type != TypeDate && in.Type != TypePlace && in.Type != TypeCustom {
		return nil, validationErr("invalid_type", "type must be date, place or custom")
	}
	if in.Question == "" {
		return nil, validationErr("invalid_question", "question must not be empty")
	}
	if err := validateOptions(in.Type, in.Options); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	poll, err := scanPoll(tx.QueryRow(ctx,
		`INSERT INTO polls (event_id, type, question, multiple, allow_change_vote, end_at, version, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		 RETURNING `+pollColumns,
		eventID, in.Type, in.Question, in.Multiple, in.AllowChangeVote, in.EndAt, createdBy))
	if err != nil {
		return nil, err
	}
	for _, o := range in.Options {
		if _, err := tx.Exec(ctx,
			`INSERT INTO poll_options (poll_id, label, date_value) VALUES ($1, $2, $3)`,
			poll.ID, o.Label, o.DateValue); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return poll, nil
}

// Get returns the bare poll row.
func (s *Store) Get(ctx context.Context, id int64) (*Poll, error) {
	return scanPoll(s.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
}

// Options returns the poll's options in creation order.
func (s *Store) Options(ctx context.Context, pollID int64) ([]Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, poll_id, label, date_value FROM poll_options WHERE poll_id = $1 ORDER BY id`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := []Option{}
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Label, &o.DateValue); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// voteCounts returns the per-option counts for a poll.
func (s *Store) voteCounts(ctx context.Context, pollID int64) (map[int64]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT option_id, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option_id`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// myVotes returns the viewer's option ids for a poll.
func (s *Store) myVotes(ctx context.Context, pollID, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND user_id = $2 ORDER BY option_id`, pollID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReadDTO assembles the poll read shape for one viewer.
func (s *Store) ReadDTO(ctx context.Context, poll *Poll, viewerID int64) (*PollDTO, error) {
	options, err := s.Options(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	counts, err := s.voteCounts(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	mine, err := s.myVotes(ctx, poll.ID, viewerID)
	if err != nil {
		return nil, err
	}

	dto := &PollDTO{Poll: *poll, Options: make([]OptionDTO, 0, len(options)), MyVotes: mine}
	for _, o := range options {
		n := counts[o.ID]
		dto.Options = append(dto.Options, OptionDTO{Option: o, VotesCount: n})
		dto.TotalVotes += n
	}
	dto.LeaderOptionIDs = leaderIDs(dto.Options)
	return dto, nil
}

// ListParams filters and paginates the poll listing.
type ListParams struct {
	IsClosed *bool
	Page     int
	PageSize int
}

// List returns one page of an event's polls, newest first, plus the total
// count.
func (s *Store) List(ctx context.Context, eventID int64, params ListParams) ([]Poll, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 10
	}
	if params.PageSize > 50 {
		params.PageSize = 50
	}

	where := `WHERE event_id = $1`
	args := []interface{}{eventID}
	if params.IsClosed != nil {
		where += ` AND is_closed = $2`
		args = append(args, *params.IsClosed)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM polls `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (params.Page - 1) * params.PageSize
	rows, err := s.pool.Query(ctx,
		`SELECT `+pollColumns+` FROM polls `+where+
			` ORDER BY created_at DESC, id DESC LIMIT `+strconv.Itoa(params.PageSize)+` OFFSET `+strconv.Itoa(offset),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	polls := []Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, 0, err
		}
		polls = append(polls, *p)
	}
	return polls, total, rows.Err()
}

// VoteResult reports a committed vote request.
type VoteResult struct {
	Changed bool
	Version int64
	// Touched notes the option ids whose counts moved, for the delta
	// broadcast.
	Touched []int64
}

// Vote applies the vote state machine for one user under row locks on the
// poll and the user's existing vote rows. When the vote set changes the
// poll version increments in the same transaction.
func (s *Store) Vote(ctx context.Context, pollID, userID int64, optionIDs []int64) (*VoteResult, error) {
	if len(optionIDs) == 0 {
		return nil, validationErr("invalid_options", "option_ids must not be empty")
	}
	seen := make(map[int64]struct{}, len(optionIDs))
	for _, id := range optionIDs {
		if _, dup := seen[id]; dup {
			return nil, validationErr("invalid_options", "option_ids must be unique")
		}
		seen[id] = struct{}{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	poll, err := scanPoll(tx.QueryRow(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1 FOR UPDATE`, pollID))
	if err != nil {
		return nil, err
	}
	if poll.VotingClosedAt(time.Now().UTC()) {
		return nil, ErrVotingClosed
	}
	if !poll.Multiple && len(optionIDs) != 1 {
		return nil, validationErr("invalid_options", "this poll accepts exactly one option")
	}

	var valid int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM poll_options WHERE poll_id = $1 AND id = ANY($2)`,
		pollID, optionIDs).Scan(&valid); err != nil {
		return nil, err
	}
	if valid != len(optionIDs) {
		return nil, validationErr("invalid_options", "option_ids must belong to this poll")
	}

	rows, err := tx.Query(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND user_id = $2 FOR UPDATE`, pollID, userID)
	if err != nil {
		return nil, err
	}
	existing := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	delta, err := applyVote(poll.Multiple, poll.AllowChangeVote, existing, optionIDs)
	if err != nil {
		return nil, err
	}
	if !delta.changed() {
		return &VoteResult{Changed: false, Version: poll.Version}, nil
	}

	if len(delta.remove) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM votes WHERE poll_id = $1 AND user_id = $2 AND option_id = ANY($3)`,
			pollID, userID, delta.remove); err != nil {
			return nil, err
		}
	}
	for _, id := range delta.insert {
		if _, err := tx.Exec(ctx,
			`INSERT INTO votes (poll_id, user_id, option_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			pollID, userID, id); err != nil {
			return nil, err
		}
	}

	var version int64
	if err := tx.QueryRow(ctx,
		`UPDATE polls SET version = version + 1, updated_at = NOW() WHERE id = $1 RETURNING version`,
		pollID).Scan(&version); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &VoteResult{Changed: true, Version: version, Touched: delta.touched()}, nil
}

// CloseResult reports a close attempt.
type CloseResult struct {
	// First is set when this call performed the transition.
	First   bool
	Version int64
}

// Close marks the poll closed. Idempotent: closing a closed poll succeeds
// without a version bump.
func (s *Store) Close(ctx context.Context, pollID int64) (*CloseResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	poll, err := scanPoll(tx.QueryRow(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1 FOR UPDATE`, pollID))
	if err != nil {
		return nil, err
	}
	if poll.IsClosed {
		return &CloseResult{First: false, Version: poll.Version}, nil
	}

	var version int64
	if err := tx.QueryRow(ctx,
		`UPDATE polls SET is_closed = TRUE, version = version + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING version`, pollID).Scan(&version); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &CloseResult{First: true, Version: version}, nil
}

// Delete removes the poll; options and votes cascade.
func (s *Store) Delete(ctx context.Context, pollID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1`, pollID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountsFor returns the counts of just the given options plus the poll's
// total and leaders, for the post-vote delta broadcast.
func (s *Store) CountsFor(ctx context.Context, pollID int64, touched []int64) (options []OptionDTO, total int, leaders []int64, err error) {
	all, err := s.Options(ctx, pollID)
	if err != nil {
		return nil, 0, nil, err
	}
	counts, err := s.voteCounts(ctx, pollID)
	if err != nil {
		return nil, 0, nil, err
	}

	touchedSet := make(map[int64]struct{}, len(touched))
	for _, id := range touched {
		touchedSet[id] = struct{}{}
	}
	withCounts := make([]OptionDTO, 0, len(all))
	options = []OptionDTO{}
	for _, o := range all {
		dto := OptionDTO{Option: o, VotesCount: counts[o.ID]}
		withCounts = append(withCounts, dto)
		total += dto.VotesCount
		if _, ok := touchedSet[o.ID]; ok {
			options = append(options, dto)
		}
	}
	return options, total, leaderIDs(withCounts), nil
}
