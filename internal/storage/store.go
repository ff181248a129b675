package storage

import (
	"context"
	"time"
)

// Store is the record store API used by the registry, tracker and worker.
type Store interface {
	// GetSchedule returns the schedule regardless of status; callers that
	// need an enabled schedule check Status themselves.
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)
	SetScheduleStatus(ctx context.Context, id, status string) error
	// UpdateScheduleRunTimes advances last_run_at (always) and next_run_at
	// (when non-nil).
	UpdateScheduleRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error

	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListChildMessages returns children ordered by position ascending.
	ListChildMessages(ctx context.Context, parentID string) ([]Message, error)

	GetToken(ctx context.Context, workspaceID string) (string, error)

	InsertJobRun(ctx context.Context, run *JobRun) error
	GetJobRun(ctx context.Context, id string) (*JobRun, error)
	// MarkRunRunning transitions pending -> running. Returns false when the
	// run is not in pending state.
	MarkRunRunning(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// MarkRunCompleted / MarkRunFailed apply the single terminal transition.
	// Both return false when the run already reached a terminal state.
	MarkRunCompleted(ctx context.Context, id string, completedAt time.Time, durationMS int64, slackTS, slackChannel, messageID string) (bool, error)
	MarkRunFailed(ctx context.Context, id string, completedAt time.Time, durationMS int64, errMsg string) (bool, error)

	Close() error
}
