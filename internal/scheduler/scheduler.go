// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is periodic background work, such as resyncing the active session.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler fires jobs on their cron schedules. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	jobs    []Job
	timeout time.Duration
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like "@every 1m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler for jobs. Each run gets a context bounded by
// timeout; zero means no bound.
func New(timeout time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:    jobs,
		timeout: timeout,
		cron:    newCron(),
	}
}

func newCron() *cron.Cron {
	logger := slogLogger{}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Validate reports whether spec is an acceptable schedule.
func Validate(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// Start registers every job with a schedule and starts the ticker. Jobs with
// an empty schedule are disabled; invalid schedules are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		if job.Schedule == "" {
			slog.Debug("job disabled", "name", job.Name)
			continue
		}
		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) })
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
}

func (s *Scheduler) fire(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	slog.Debug("cron firing job", "name", job.Name)
	if err := job.Run(ctx); err != nil {
		slog.Warn("scheduled job failed", "name", job.Name, "error", err)
	}
}

// Entries returns how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
