package polls

import (
	"errors"
	"time"
)

// Poll types.
const (
	TypeDate   = "date"
	TypePlace  = "place"
	TypeCustom = "custom"
)

var (
	ErrNotFound = errors.New("poll not found")
	// ErrVotingClosed is returned when voting on a closed poll or one
	// whose end time has passed.
	ErrVotingClosed = errors.New("voting is closed")
)

// ValidationError carries a machine code rendered as HTTP 400.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// Poll is a vote among options attached to an event. Version increases
// monotonically on every observable change so clients can discard stale
// deltas.
type Poll struct {
	ID              int64      `json:"id"`
	EventID         int64      `json:"event_id"`
	Type            string     `json:"type"`
	Question        string     `json:"question"`
	Multiple        bool       `json:"multiple"`
	AllowChangeVote bool       `json:"allow_change_vote"`
	IsClosed        bool       `json:"is_closed"`
	EndAt           *time.Time `json:"end_at"`
	Version         int64      `json:"version"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// VotingClosedAt reports whether voting was closed at time t.
func (p *Poll) VotingClosedAt(t time.Time) bool {
	return p.IsClosed || (p.EndAt != nil && !p.EndAt.After(t))
}

// Option is a single poll choice. DateValue is set for date polls, Label
// for place and custom polls.
type Option struct {
	ID        int64      `json:"id"`
	PollID    int64      `json:"poll_id"`
	Label     string     `json:"label"`
	DateValue *time.Time `json:"date_value"`
}

// OptionDTO is an option with its live vote count.
type OptionDTO struct {
	Option
	VotesCount int `json:"votes_count"`
}

// PollDTO is the read shape: options with counts plus the derived fields
// for the current viewer.
type PollDTO struct {
	Poll
	Options         []OptionDTO `json:"options"`
	TotalVotes      int         `json:"total_votes"`
	MyVotes         []int64     `json:"my_votes"`
	LeaderOptionIDs []int64     `json:"leader_option_ids"`
}

// OptionInput is one option in a poll create request.
type OptionInput struct {
	Label     string     `json:"label"`
	DateValue *time.Time `json:"date_value"`
}

// validateOptions enforces the per-type option rules: at least two
// options, unique date values for date polls, unique non-empty labels
// otherwise.
func validateOptions(pollType string, options []OptionInput) error {
	if len(options) < 2 {
		return validationErr("too_few_options", "a poll needs at least 2 options")
	}
	if pollType == TypeDate {
		seen := make(map[time.Time]struct{}, len(options))
		for _, o := range options {
			if o.DateValue == nil {
				return validationErr("invalid_options", "date poll options require a date_value")
			}
			key := o.DateValue.UTC()
			if _, dup := seen[key]; dup {
				return validationErr("invalid_options", "date values must be unique")
			}
			seen[key] = struct{}{}
		}
		return nil
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if o.Label == "" {
			return validationErr("invalid_options", "option labels must not be empty")
		}
		if _, dup := seen[o.Label]; dup {
			return validationErr("invalid_options", "option labels must be unique")
		}
		seen[o.Label] = struct{}{}
	}
	return nil
}

// leaderIDs returns the option ids tied at the strictly positive maximum
// count, in the order of the options slice.
func leaderIDs(options []OptionDTO) []int64 {
	max := 0
	for _, o := range options {
		if o.VotesCount > max {
			max = o.VotesCount
		}
	}
	leaders := []int64{}
	if max == 0 {
		return leaders
	}
	for _, o := range options {
		if o.VotesCount == max {
			leaders = append(leaders, o.ID)
		}
	}
	return leaders
}
