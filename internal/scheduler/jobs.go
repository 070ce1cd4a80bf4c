package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planhub/backend/internal/mail"
)

// Jobs holds the periodic job implementations over the store.
type Jobs struct {
	pool   *pgxpool.Pool
	mailer mail.Sender
}

func NewJobs(pool *pgxpool.Pool, mailer mail.Sender) *Jobs {
	return &Jobs{pool: pool, mailer: mailer}
}

// reminderRepeat is how long after a sent reminder a still-open task gets
// another one.
const reminderRepeat = 12 * time.Hour

// SendDeadlineReminders mails the assignee and the event owner for every
// open task due within 24 hours that has not been reminded for its
// current due date (or was reminded more than 12 hours ago). The
// idempotency key (sent_at, for_due_at) is written after sending, so a
// rescheduled task gets a fresh reminder. Returns the number of emails
// dispatched.
func (j *Jobs) SendDeadlineReminders(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := j.pool.Query(ctx,
		`SELECT t.id, t.title, t.due_at, e.title,
		        au.id, au.email, au.is_active, au.email_notifications_enabled,
		        ou.id, ou.email, ou.is_active, ou.email_notifications_enabled
		 FROM tasks t
		 JOIN task_lists l ON l.id = t.list_id
		 JOIN events e ON e.id = l.event_id
		 JOIN users ou ON ou.id = e.owner_id
		 LEFT JOIN participants p ON p.id = t.assignee_id
		 LEFT JOIN users au ON au.id = p.user_id
		 WHERE t.status IN ('todo', 'doing')
		   AND t.due_at IS NOT NULL
		   AND t.due_at >= $1 AND t.due_at <= $2
		   AND (t.deadline_reminder_for_due_at IS DISTINCT FROM t.due_at
		        OR t.deadline_reminder_sent_at < $3)`,
		now, now.Add(24*time.Hour), now.Add(-reminderRepeat))
	if err != nil {
		return 0, err
	}

	type reminder struct {
		taskID     int64
		taskTitle  string
		dueAt      time.Time
		eventTitle string
		recipients []string
	}
	reminders := []reminder{}
	for rows.Next() {
		var rem reminder
		var assigneeID, ownerID *int64
		var assigneeEmail, ownerEmail *string
		var assigneeActive, assigneeOptIn, ownerActive, ownerOptIn *bool
		if err := rows.Scan(&rem.taskID, &rem.taskTitle, &rem.dueAt, &rem.eventTitle,
			&assigneeID, &assigneeEmail, &assigneeActive, &assigneeOptIn,
			&ownerID, &ownerEmail, &ownerActive, &ownerOptIn); err != nil {
			rows.Close()
			return 0, err
		}
		seen := map[string]struct{}{}
		addRecipient := func(email *string, active, optIn *bool) {
			if email == nil || *email == "" || active == nil || !*active || optIn == nil || !*optIn {
				return
			}
			if _, dup := seen[*email]; dup {
				return
			}
			seen[*email] = struct{}{}
			rem.recipients = append(rem.recipients, *email)
		}
		addRecipient(assigneeEmail, assigneeActive, assigneeOptIn)
		addRecipient(ownerEmail, ownerActive, ownerOptIn)
		reminders = append(reminders, rem)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, rem := range reminders {
		sent += send(j.mailer, rem.recipients,
			"Task deadline approaching: "+rem.taskTitle,
			"deadline_reminder", map[string]interface{}{
				"TaskTitle":  rem.taskTitle,
				"EventTitle": rem.eventTitle,
				"DueAt":      rem.dueAt.Format("2006-01-02 15:04 UTC"),
			})
		if _, err := j.pool.Exec(ctx,
			`UPDATE tasks SET deadline_reminder_sent_at = $2, deadline_reminder_for_due_at = due_at
			 WHERE id = $1`, rem.taskID, now); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// SendPollClosingNotifications mails the owner and every opted-in
// participant of polls whose voting just closed and that have not been
// notified for their current end time.
func (j *Jobs) SendPollClosingNotifications(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := j.pool.Query(ctx,
		`SELECT p.id, p.question, p.end_at, e.id, e.title
		 FROM polls p
		 JOIN events e ON e.id = p.event_id
		 WHERE (p.is_closed OR (p.end_at IS NOT NULL AND p.end_at <= $1))
		   AND (p.closing_notification_sent_at IS NULL
		        OR p.closing_notification_for_end_at IS DISTINCT FROM p.end_at)`,
		now)
	if err != nil {
		return 0, err
	}

	type closing struct {
		pollID     int64
		question   string
		endAt      *time.Time
		eventID    int64
		eventTitle string
	}
	closings := []closing{}
	for rows.Next() {
		var c closing
		if err := rows.Scan(&c.pollID, &c.question, &c.endAt, &c.eventID, &c.eventTitle); err != nil {
			rows.Close()
			return 0, err
		}
		closings = append(closings, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range closings {
		recipients, err := j.eventRecipients(ctx, c.eventID)
		if err != nil {
			return sent, err
		}
		sent += send(j.mailer, recipients,
			"Voting ended: "+c.question,
			"poll_closed", map[string]interface{}{
				"Question":   c.question,
				"EventTitle": c.eventTitle,
			})
		if _, err := j.pool.Exec(ctx,
			`UPDATE polls SET closing_notification_sent_at = $2, closing_notification_for_end_at = end_at
			 WHERE id = $1`, c.pollID, now); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// eventRecipients returns the distinct opted-in, active addresses of an
// event's owner and participants.
func (j *Jobs) eventRecipients(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT DISTINCT u.email
		 FROM users u
		 WHERE u.is_active AND u.email_notifications_enabled AND u.email <> ''
		   AND (u.id IN (SELECT user_id FROM participants WHERE event_id = $1)
		        OR u.id = (SELECT owner_id FROM events WHERE id = $1))`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// SendDailyDigest mails every opted-in user a summary of their open
// tasks.
func (j *Jobs) SendDailyDigest(ctx context.Context) (int, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT u.email,
		        COUNT(t.id) FILTER (WHERE t.status <> 'done'),
		        COUNT(DISTINCT p.event_id)
		 FROM users u
		 JOIN participants p ON p.user_id = u.id
		 LEFT JOIN tasks t ON t.assignee_id = p.id
		 WHERE u.is_active AND u.email_notifications_enabled AND u.email <> ''
		 GROUP BY u.id, u.email`)
	if err != nil {
		return 0, err
	}

	type digest struct {
		email      string
		openTasks  int
		eventCount int
	}
	digests := []digest{}
	for rows.Next() {
		var d digest
		if err := rows.Scan(&d.email, &d.openTasks, &d.eventCount); err != nil {
			rows.Close()
			return 0, err
		}
		digests = append(digests, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, d := range digests {
		sent += send(j.mailer, []string{d.email},
			"Your daily planning summary",
			"daily_digest", map[string]interface{}{
				"OpenTasks":  d.openTasks,
				"EventCount": d.eventCount,
			})
	}
	return sent, nil
}
