// Package scheduler runs the periodic jobs: deadline reminders, poll
// closing notifications and the optional daily digest. Every job is a
// pure function over the store; failures are logged and isolated so one
// broken job never stops the others.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/planhub/backend/internal/mail"
	"github.com/planhub/backend/internal/metrics"
)

// Scheduler owns the cron runner and the job implementations.
type Scheduler struct {
	cron  *cron.Cron
	jobs  *Jobs
	extra []entry
}

type entry struct {
	spec string
	name string
	run  func(context.Context) (int, error)
}

// New builds the scheduler with the standard jobs. When digestCron is
// non-empty the daily digest runs on that cron expression.
func New(jobs *Jobs, digestCron string) *Scheduler {
	s := &Scheduler{
		cron: cron.New(),
		jobs: jobs,
		extra: []entry{
			{spec: "@hourly", name: "deadline_reminders", run: jobs.SendDeadlineReminders},
			{spec: "*/30 * * * *", name: "poll_closing_notifications", run: jobs.SendPollClosingNotifications},
		},
	}
	if digestCron != "" {
		s.extra = append(s.extra, entry{spec: digestCron, name: "daily_digest", run: jobs.SendDailyDigest})
	}
	return s
}

// Start registers and starts the cron entries.
func (s *Scheduler) Start() error {
	for _, e := range s.extra {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { runJob(e.name, e.run) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Printf("scheduler: started with %d jobs", len(s.extra))
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("scheduler: stopped")
}

func runJob(name string, run func(context.Context) (int, error)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: job %s panicked: %v", name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sent, err := run(ctx)
	if err != nil {
		log.Printf("scheduler: job %s failed: %v", name, err)
		return
	}
	if sent > 0 {
		log.Printf("scheduler: job %s dispatched %d emails", name, sent)
	}
}

// send delivers one templated email and bumps the metric. Delivery errors
// are logged and swallowed so a dead mailbox does not fail the batch.
func send(mailer mail.Sender, to []string, subject, tmpl string, data map[string]interface{}) int {
	if len(to) == 0 {
		return 0
	}
	if err := mailer.Send(to, subject, tmpl, data); err != nil {
		log.Printf("scheduler: send %q to %v: %v", subject, to, err)
		return 0
	}
	metrics.EmailsSent.Add(float64(len(to)))
	return len(to)
}
