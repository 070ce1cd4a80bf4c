package board

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists task lists and tasks and maintains the compact order
// invariant: after every committed mutation the orders within a list (and
// the list orders within an event) are exactly 0..N-1.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const listColumns = `id, event_id, title, "order", created_at, updated_at`

func scanList(row pgx.Row) (*TaskList, error) {
	var l TaskList
	err := row.Scan(&l.ID, &l.EventID, &l.Title, &l.Order, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// taskQuery aggregates dependency ids per task.
const taskQuery = `
	SELECT t.id, t.list_id, t.title, t.description, t.status, t.assignee_id,
	       t.start_at, t.due_at, t."order", t.created_at, t.updated_at,
	       COALESCE(array_agg(d.depends_on_id) FILTER (WHERE d.depends_on_id IS NOT NULL), '{}')
	FROM tasks t
	LEFT JOIN task_dependencies d ON d.task_id = t.id`

const taskGroupBy = ` GROUP BY t.id`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ListID, &t.Title, &t.Description, &t.Status, &t.AssigneeID,
		&t.StartAt, &t.DueAt, &t.Order, &t.CreatedAt, &t.UpdatedAt, &t.DependsOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.DependsOn == nil {
		t.DependsOn = []int64{}
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CreateList appends a new column: order = max(existing)+1, 0 when empty.
// The event row is locked first so concurrent creates cannot pick the
// same order.
func (s *Store) CreateList(ctx context.Context, eventID int64, title string) (*TaskList, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	list, err := scanList(tx.QueryRow(ctx,
		`INSERT INTO task_lists (event_id, title, "order")
		 VALUES ($1, $2, (SELECT COALESCE(MAX("order"), -1) + 1 FROM task_lists WHERE event_id = $1))
		 RETURNING `+listColumns,
		eventID, title))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) GetList(ctx context.Context, id int64) (*TaskList, error) {
	return scanList(s.pool.QueryRow(ctx,
		`SELECT `+listColumns+` FROM task_lists WHERE id = $1`, id))
}

func (s *Store) UpdateListTitle(ctx context.Context, id int64, title string) (*TaskList, error) {
	return scanList(s.pool.QueryRow(ctx,
		`UPDATE task_lists SET title = $2, updated_at = NOW() WHERE id = $1 RETURNING `+listColumns,
		id, title))
}

// DeleteList removes the column; its tasks cascade. The caller runs
// NormalizeListOrders afterwards in a fresh transaction.
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_lists WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListsForEvent(ctx context.Context, eventID int64) ([]TaskList, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listColumns+` FROM task_lists WHERE event_id = $1 ORDER BY "order", id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := []TaskList{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// NormalizeListOrders renumbers an event's columns to 0..N-1 under row
// locks. Idempotent: only rows whose position differs are updated.
// Returns the surviving ids in order.
func (s *Store) NormalizeListOrders(ctx context.Context, eventID int64) ([]int64, error) {
	return s.normalize(ctx,
		`SELECT id, "order" FROM task_lists WHERE event_id = $1 ORDER BY "order", id FOR UPDATE`,
		`UPDATE task_lists SET "order" = $2, updated_at = NOW() WHERE id = $1`,
		eventID)
}

// NormalizeTaskOrders does the same for one list's tasks.
func (s *Store) NormalizeTaskOrders(ctx context.Context, listID int64) ([]int64, error) {
	return s.normalize(ctx,
		`SELECT id, "order" FROM tasks WHERE list_id = $1 ORDER BY "order", id FOR UPDATE`,
		`UPDATE tasks SET "order" = $2, updated_at = NOW() WHERE id = $1`,
		listID)
}

func (s *Store) normalize(ctx context.Context, selectSQL, updateSQL string, parentID int64) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectSQL, parentID)
	if err != nil {
		return nil, err
	}
	type child struct {
		id    int64
		order int
	}
	children := []child{}
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.id, &c.order); err != nil {
			rows.Close()
			return nil, err
		}
		children = append(children, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(children))
	for idx, c := range children {
		ids[idx] = c.id
		if c.order == idx {
			continue
		}
		if _, err := tx.Exec(ctx, updateSQL, c.id, idx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReorderLists assigns order = index over the given permutation of the
// event's columns.
func (s *Store) ReorderLists(ctx context.Context, eventID int64, orderedIDs []int64) error {
	return s.reorder(ctx,
		`SELECT id FROM task_lists WHERE event_id = $1 ORDER BY "order", id FOR UPDATE`,
		`UPDATE task_lists SET "order" = $2, updated_at = NOW() WHERE id = $1`,
		eventID, orderedIDs)
}

// ReorderTasks does the same for one list's tasks.
func (s *Store) ReorderTasks(ctx context.Context, listID int64, orderedIDs []int64) error {
	return s.reorder(ctx,
		`SELECT id FROM tasks WHERE list_id = $1 ORDER BY "order", id FOR UPDATE`,
		`UPDATE tasks SET "order" = $2, updated_at = NOW() WHERE id = $1`,
		listID, orderedIDs)
}

func (s *Store) reorder(ctx context.Context, selectSQL, updateSQL string, parentID int64, orderedIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectSQL, parentID)
	if err != nil {
		return err
	}
	current := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if err := validateReorder(current, orderedIDs); err != nil {
		return err
	}
	for idx, id := range orderedIDs {
		if _, err := tx.Exec(ctx, updateSQL, id, idx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// TaskInput carries the writable task fields.
type TaskInput struct {
	Title       string
	Description string
	StartAt     *time.Time
	DueAt       *time.Time
	DependsOn   []int64
}

// CreateTask appends a task to the list. Dependencies must reference tasks
// of the same event.
func (s *Store) CreateTask(ctx context.Context, listID int64, in TaskInput) (*Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the list row so concurrent appends cannot pick the same order.
	var locked int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM task_lists WHERE id = $1 FOR UPDATE`, listID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkDependencies(ctx, tx, listID, 0, in.DependsOn); err != nil {
		return nil, err
	}

	var taskID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (list_id, title, description, start_at, due_at, "order")
		 VALUES ($1, $2, $3, $4, $5, (SELECT COALESCE(MAX("order"), -1) + 1 FROM tasks WHERE list_id = $1))
		 RETURNING id`,
		listID, in.Title, in.Description, in.StartAt, in.DueAt).Scan(&taskID)
	if err != nil {
		return nil, err
	}
	if err := replaceDependencies(ctx, tx, taskID, in.DependsOn); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	return scanTask(s.pool.QueryRow(ctx, taskQuery+` WHERE t.id = $1`+taskGroupBy, id))
}

// UpdateTask persists title, description, dates and the dependency set.
func (s *Store) UpdateTask(ctx context.Context, id int64, in TaskInput) (*Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var listID int64
	err = tx.QueryRow(ctx, `SELECT list_id FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&listID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkDependencies(ctx, tx, listID, id, in.DependsOn); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET title = $2, description = $3, start_at = $4, due_at = $5, updated_at = NOW()
		 WHERE id = $1`,
		id, in.Title, in.Description, in.StartAt, in.DueAt); err != nil {
		return nil, err
	}
	if err := replaceDependencies(ctx, tx, id, in.DependsOn); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// checkDependencies verifies every dependency id resolves to a task of the
// same event and does not point at the task itself.
func (s *Store) checkDependencies(ctx context.Context, tx pgx.Tx, listID, taskID int64, deps []int64) error {
	if len(deps) == 0 {
		return nil
	}
	for _, d := range deps {
		if taskID != 0 && d == taskID {
			return validationErr("invalid_dependencies", "a task cannot depend on itself")
		}
	}
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(DISTINCT t.id) FROM tasks t
		 JOIN task_lists l ON l.id = t.list_id
		 WHERE t.id = ANY($1)
		   AND l.event_id = (SELECT event_id FROM task_lists WHERE id = $2)`,
		deps, listID).Scan(&count)
	if err != nil {
		return err
	}
	if count != len(deps) {
		return validationErr("invalid_dependencies", "dependencies must be tasks of the same event")
	}
	return nil
}

func replaceDependencies(ctx context.Context, tx pgx.Tx, taskID int64, deps []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM task_dependencies WHERE task_id = $1`, taskID); err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			taskID, d); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTask removes the task; the caller normalizes the list afterwards.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions the task. Moving to doing or done requires every
// dependency to be done.
func (s *Store) SetStatus(ctx context.Context, id int64, status string) (*Task, error) {
	if status == StatusDoing || status == StatusDone {
		var blocked int
		err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM task_dependencies d
			 JOIN tasks dt ON dt.id = d.depends_on_id
			 WHERE d.task_id = $1 AND dt.status <> $2`,
			id, StatusDone).Scan(&blocked)
		if err != nil {
			return nil, err
		}
		if blocked > 0 {
			return nil, validationErr("dependencies_not_done", "all dependencies must be done first")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// Assign sets or clears the assignee. A non-nil assignee must be a
// participant of the task's event.
func (s *Store) Assign(ctx context.Context, id int64, participantID *int64) (*Task, error) {
	if participantID != nil {
		var count int
		err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM participants p
			 WHERE p.id = $1 AND p.event_id = (
			     SELECT l.event_id FROM tasks t JOIN task_lists l ON l.id = t.list_id WHERE t.id = $2)`,
			*participantID, id).Scan(&count)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, validationErr("invalid_assignee", "assignee must be a participant of the same event")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET assignee_id = $2, updated_at = NOW() WHERE id = $1`, id, participantID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// Take self-assigns an unassigned task. The conditional update makes the
// race loser see zero affected rows and fail with ErrAlreadyAssigned.
func (s *Store) Take(ctx context.Context, id, participantID int64) (*Task, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET assignee_id = $2, updated_at = NOW()
		 WHERE id = $1 AND assignee_id IS NULL`,
		id, participantID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var exists int
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE id = $1`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyAssigned
	}
	return s.GetTask(ctx, id)
}

// EventIDForList resolves a list's owning event.
func (s *Store) EventIDForList(ctx context.Context, listID int64) (int64, error) {
	var eventID int64
	err := s.pool.QueryRow(ctx, `SELECT event_id FROM task_lists WHERE id = $1`, listID).Scan(&eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return eventID, err
}

// EventIDForTask resolves a task's owning event plus its list id.
func (s *Store) EventIDForTask(ctx context.Context, taskID int64) (eventID, listID int64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT l.event_id, t.list_id FROM tasks t JOIN task_lists l ON l.id = t.list_id WHERE t.id = $1`,
		taskID).Scan(&eventID, &listID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	return eventID, listID, err
}

// TasksForList returns the list's tasks in board order.
func (s *Store) TasksForList(ctx context.Context, listID int64) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		taskQuery+` WHERE t.list_id = $1`+taskGroupBy+` ORDER BY t."order", t.id`, listID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// SnapshotForEvent assembles the full board: ordered lists with ordered
// tasks.
func (s *Store) SnapshotForEvent(ctx context.Context, eventID int64) (*Snapshot, error) {
	lists, err := s.ListsForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		taskQuery+` JOIN task_lists l ON l.id = t.list_id WHERE l.event_id = $1`+
			taskGroupBy+` ORDER BY t."order", t.id`, eventID)
	if err != nil {
		return nil, err
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}

	byList := make(map[int64][]Task, len(lists))
	for _, t := range tasks {
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	snapshot := &Snapshot{Lists: make([]ListWithTasks, 0, len(lists))}
	for _, l := range lists {
		children := byList[l.ID]
		if children == nil {
			children = []Task{}
		}
		snapshot.Lists = append(snapshot.Lists, ListWithTasks{TaskList: l, Tasks: children})
	}
	return snapshot, nil
}

// ComputeProgress derives the per-list and total status counts in a single
// grouped query.
func (s *Store) ComputeProgress(ctx context.Context, eventID int64) (*Progress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.title,
		        COUNT(t.id),
		        COUNT(t.id) FILTER (WHERE t.status = 'todo'),
		        COUNT(t.id) FILTER (WHERE t.status = 'doing'),
		        COUNT(t.id) FILTER (WHERE t.status = 'done')
		 FROM task_lists l
		 LEFT JOIN tasks t ON t.list_id = l.id
		 WHERE l.event_id = $1
		 GROUP BY l.id, l.title, l."order"
		 ORDER BY l."order", l.id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &Progress{
		EventID:     eventID,
		ByList:      []ListProgress{},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		TTLSeconds:  progressTTLSeconds,
	}
	for rows.Next() {
		var lp ListProgress
		if err := rows.Scan(&lp.ListID, &lp.Title, &lp.Total, &lp.Todo, &lp.Doing, &lp.Done); err != nil {
			return nil, err
		}
		p.ByList = append(p.ByList, lp)
		p.TotalTasks += lp.Total
		p.Counts.Todo += lp.Todo
		p.Counts.Doing += lp.Doing
		p.Counts.Done += lp.Done
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.PercentDone = percentDone(p.Counts.Done, p.TotalTasks)
	return p, nil
}
