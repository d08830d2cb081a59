// Package retention prunes the SBAT request audit log on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type requestPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes audit records older than the retention window.
type Job struct {
	cron      *cron.Cron
	store     requestPruner
	retention time.Duration
	spec      string
	now       func() time.Time
}

// New creates a Job that fires on spec, e.g. "@daily" or "0 3 * * *".
func New(store requestPruner, retention time.Duration, spec string) *Job {
	logger := slogLogger{}
	return &Job{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		store:     store,
		retention: retention,
		spec:      spec,
		now:       time.Now,
	}
}

// Start registers the prune job and starts the scheduler.
func (j *Job) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.spec, func() {
		if _, err := j.Prune(ctx); err != nil {
			slog.Error("audit log retention failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", j.spec, err)
	}
	j.cron.Start()
	slog.Info("audit log retention scheduled", "spec", j.spec, "retention", j.retention)
	return nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (j *Job) Stop() {
	<-j.cron.Stop().Done()
}

// Prune deletes records older than the retention window and reports how
// many went.
func (j *Job) Prune(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	slog.Info("pruned audit log", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// slogLogger routes cron's own logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
