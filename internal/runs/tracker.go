package runs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slackcourier/internal/fault"
	"slackcourier/internal/queue"
	"slackcourier/internal/storage"
)

// Tracker records each execution attempt through its lifecycle:
// pending -> running -> completed | failed. The pending row is the
// idempotency anchor: it exists before any side-effecting work, so a crash
// between acceptance and the attempt leaves an auditable record.
type Tracker struct {
	store storage.Store
	log   *slog.Logger
	now   func() time.Time
}

func New(store storage.Store, log *slog.Logger) *Tracker {
	return &Tracker{store: store, log: log, now: time.Now}
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// LogQueued creates the pending run row and returns its id.
func (t *Tracker) LogQueued(ctx context.Context, scheduleID string, runAt time.Time) (string, error) {
	if runAt.IsZero() {
		runAt = t.now()
	}
	run := &storage.JobRun{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		Status:     storage.RunPending,
		RunAt:      runAt,
	}
	if err := t.store.InsertJobRun(ctx, run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// MarkRunning must be called before content resolution starts.
func (t *Tracker) MarkRunning(ctx context.Context, runID string) error {
	ok, err := t.store.MarkRunRunning(ctx, runID, t.now())
	if err != nil {
		return err
	}
	if !ok {
		t.log.Warn("run not in pending state, skipping running mark", slog.String("run", runID))
	}
	return nil
}

// MarkCompleted applies the completed terminal transition. Timestamp and
// channel may be empty strings (delivery produced no message) but the fields
// are always written.
func (t *Tracker) MarkCompleted(ctx context.Context, runID string, durationMS int64, slackTS, slackChannel, messageID string) error {
	ok, err := t.store.MarkRunCompleted(ctx, runID, t.now(), durationMS, slackTS, slackChannel, messageID)
	if err != nil {
		return err
	}
	if !ok {
		t.log.Warn("run already terminal, completed mark ignored", slog.String("run", runID))
	}
	return nil
}

// MarkFailed applies the failed terminal transition. The error value is
// stringified defensively; it may be anything recovered from the pipeline.
func (t *Tracker) MarkFailed(ctx context.Context, runID string, durationMS int64, errv any) error {
	msg := fault.Stringify(errv)
	ok, err := t.store.MarkRunFailed(ctx, runID, t.now(), durationMS, msg)
	if err != nil {
		return err
	}
	if !ok {
		t.log.Warn("run already terminal, failed mark ignored", slog.String("run", runID))
	}
	return nil
}

// BumpScheduleTimes advances last_run_at unconditionally and next_run_at when
// a cron expression is present. Called after either terminal transition:
// a failing schedule still counts as "a run happened", otherwise it would
// never advance and spin the queue.
func (t *Tracker) BumpScheduleTimes(ctx context.Context, scheduleID, cronExpr, timezone string, asOf time.Time) error {
	var nextRun *time.Time
	if strings.TrimSpace(cronExpr) != "" {
		next, err := queue.NextAfter(cronExpr, timezone, asOf)
		if err != nil {
			t.log.Warn("next run computation failed",
				slog.String("schedule", scheduleID), slog.Any("err", err))
		} else {
			nextRun = &next
		}
	}
	return t.store.UpdateScheduleRunTimes(ctx, scheduleID, asOf, nextRun)
}
