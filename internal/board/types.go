package board

import (
	"errors"
	"time"
)

// Task statuses.
const (
	StatusTodo  = "todo"
	StatusDoing = "doing"
	StatusDone  = "done"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAssigned is returned when a take loses the race for an
	// unassigned task.
	ErrAlreadyAssigned = errors.New("already assigned")
)

// ValidationError carries a machine code alongside the message; handlers
// render it as HTTP 400.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// TaskList is a board column. Order is compact within the event.
type TaskList struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is one card on the board. Order is compact within its list;
// DependsOn holds ids of tasks in the same event that must be done before
// this one may move to doing or done.
type Task struct {
	ID          int64      `json:"id"`
	ListID      int64      `json:"list"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	AssigneeID  *int64     `json:"assignee"`
	StartAt     *time.Time `json:"start_at"`
	DueAt       *time.Time `json:"due_at"`
	Order       int        `json:"order"`
	DependsOn   []int64    `json:"depends_on"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Progress is the derived board aggregate. GeneratedAt changes on every
// recomputation so clients can detect staleness.
type Progress struct {
	EventID     int64          `json:"event_id"`
	TotalTasks  int            `json:"total_tasks"`
	Counts      StatusCounts   `json:"counts"`
	PercentDone float64        `json:"percent_done"`
	ByList      []ListProgress `json:"by_list"`
	GeneratedAt string         `json:"generated_at"`
	TTLSeconds  int            `json:"ttl_seconds"`
}

type StatusCounts struct {
	Todo  int `json:"todo"`
	Doing int `json:"doing"`
	Done  int `json:"done"`
}

type ListProgress struct {
	ListID int64  `json:"list_id"`
	Title  string `json:"title"`
	Total  int    `json:"total"`
	Todo   int    `json:"todo"`
	Doing  int    `json:"doing"`
	Done   int    `json:"done"`
}

// Snapshot is the full board state for one event.
type Snapshot struct {
	Lists []ListWithTasks `json:"lists"`
}

type ListWithTasks struct {
	TaskList
	Tasks []Task `json:"tasks"`
}
