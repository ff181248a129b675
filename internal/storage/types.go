package storage

import (
	"errors"
	"time"
)

var ErrNoRows = errors.New("storage: no rows")

// Config configures the sqlite record store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Schedule is the durable definition of a recurring delivery.
// Mutated on every run (LastRunAt/NextRunAt) and on enable/disable.
type Schedule struct {
	ID          string     `db:"id"`
	WorkspaceID string     `db:"workspace_id"`
	ChannelID   string     `db:"channel_id"`
	ChannelName string     `db:"channel_name"`
	CronExpr    string     `db:"cron_expr"`
	Timezone    string     `db:"timezone"`
	Status      string     `db:"status"` // "enabled" | "disabled"
	MessageID   string     `db:"message_id"`
	LastRunAt   *time.Time `db:"last_run_at"`
	NextRunAt   *time.Time `db:"next_run_at"`
}

const (
	ScheduleEnabled  = "enabled"
	ScheduleDisabled = "disabled"
)

// Message is a stored message definition with its template fields inlined.
// A parent message may own ordered child messages delivered as threaded
// replies. Read-only to this service.
type Message struct {
	ID              string `db:"id"`
	WorkspaceID     string `db:"workspace_id"`
	CompanyID       string `db:"company_id"`
	ChannelID       string `db:"channel_id"`
	TemplateName    string `db:"template_name"`
	QueryText       string `db:"query_text"`
	BlocksJSON      string `db:"blocks_json"`
	VizConfigJSON   string `db:"viz_config_json"`
	IsParent        bool   `db:"is_parent"`
	ParentMessageID string `db:"parent_message_id"`
	Position        int    `db:"position"`
}

// JobRun records one execution attempt of a schedule or one-shot job.
// Exactly one terminal transition (completed xor failed) per run; rows are
// never mutated after a terminal state.
type JobRun struct {
	ID           string     `db:"id"`
	ScheduleID   string     `db:"schedule_id"`
	Status       string     `db:"status"` // pending | running | completed | failed
	RunAt        time.Time  `db:"run_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	DurationMS   *int64     `db:"duration_ms"`
	SlackTS      string     `db:"slack_ts"`
	SlackChannel string     `db:"slack_channel"`
	MessageID    string     `db:"message_id"`
	ErrorMessage string     `db:"error_message"`
}

const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)
