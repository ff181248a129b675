package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open initializes the sqlite record store, applying migrations.
func Open(cfg Config, log *slog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// Times are stored as RFC3339Nano text; intermediary row structs keep sqlx
// scanning independent of driver time handling.

type scheduleRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	ChannelID   string         `db:"channel_id"`
	ChannelName string         `db:"channel_name"`
	CronExpr    string         `db:"cron_expr"`
	Timezone    string         `db:"timezone"`
	Status      string         `db:"status"`
	MessageID   string         `db:"message_id"`
	LastRunAt   sql.NullString `db:"last_run_at"`
	NextRunAt   sql.NullString `db:"next_run_at"`
}

func (r scheduleRow) toSchedule() Schedule {
	return Schedule{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		ChannelID:   r.ChannelID,
		ChannelName: r.ChannelName,
		CronExpr:    r.CronExpr,
		Timezone:    r.Timezone,
		Status:      r.Status,
		MessageID:   r.MessageID,
		LastRunAt:   parseTimePtr(r.LastRunAt),
		NextRunAt:   parseTimePtr(r.NextRunAt),
	}
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, workspace_id, channel_id, channel_name, cron_expr, timezone, status, message_id, last_run_at, next_run_at
		 FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	sch := row.toSchedule()
	return &sch, nil
}

func (s *sqliteStore) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, workspace_id, channel_id, channel_name, cron_expr, timezone, status, message_id, last_run_at, next_run_at
		 FROM schedules WHERE status = ? ORDER BY id`, ScheduleEnabled)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSchedule())
	}
	return out, nil
}

func (s *sqliteStore) SetScheduleStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *sqliteStore) UpdateScheduleRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	if nextRun != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
			fmtTime(lastRun), fmtTime(*nextRun), id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = ? WHERE id = ?`, fmtTime(lastRun), id)
	return err
}

func (s *sqliteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := s.db.GetContext(ctx, &m,
		`SELECT id, workspace_id, company_id, channel_id, template_name, query_text, blocks_json, viz_config_json, is_parent, parent_message_id, position
		 FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *sqliteStore) ListChildMessages(ctx context.Context, parentID string) ([]Message, error) {
	var out []Message
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, workspace_id, company_id, channel_id, template_name, query_text, blocks_json, viz_config_json, is_parent, parent_message_id, position
		 FROM messages WHERE parent_message_id = ? ORDER BY position ASC`, parentID)
	return out, err
}

func (s *sqliteStore) GetToken(ctx context.Context, workspaceID string) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token,
		`SELECT access_token FROM tokens WHERE workspace_id = ? ORDER BY updated_at DESC LIMIT 1`, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRows
	}
	return token, err
}

func (s *sqliteStore) InsertJobRun(ctx context.Context, run *JobRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, schedule_id, status, run_at, slack_ts, slack_channel, message_id, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScheduleID, run.Status, fmtTime(run.RunAt),
		run.SlackTS, run.SlackChannel, run.MessageID, run.ErrorMessage)
	return err
}

type jobRunRow struct {
	ID           string         `db:"id"`
	ScheduleID   string         `db:"schedule_id"`
	Status       string         `db:"status"`
	RunAt        string         `db:"run_at"`
	StartedAt    sql.NullString `db:"started_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
	DurationMS   sql.NullInt64  `db:"duration_ms"`
	SlackTS      string         `db:"slack_ts"`
	SlackChannel string         `db:"slack_channel"`
	MessageID    string         `db:"message_id"`
	ErrorMessage string         `db:"error_message"`
}

func (s *sqliteStore) GetJobRun(ctx context.Context, id string) (*JobRun, error) {
	var row jobRunRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, schedule_id, status, run_at, started_at, completed_at, duration_ms, slack_ts, slack_channel, message_id, error_message
		 FROM job_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	run := JobRun{
		ID:           row.ID,
		ScheduleID:   row.ScheduleID,
		Status:       row.Status,
		SlackTS:      row.SlackTS,
		SlackChannel: row.SlackChannel,
		MessageID:    row.MessageID,
		ErrorMessage: row.ErrorMessage,
		StartedAt:    parseTimePtr(row.StartedAt),
		CompletedAt:  parseTimePtr(row.CompletedAt),
	}
	if t, err := time.Parse(time.RFC3339Nano, row.RunAt); err == nil {
		run.RunAt = t
	}
	if row.DurationMS.Valid {
		v := row.DurationMS.Int64
		run.DurationMS = &v
	}
	return &run, nil
}

func (s *sqliteStore) MarkRunRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		RunRunning, fmtTime(startedAt), id, RunPending)
	return oneRow(res, err)
}

func (s *sqliteStore) MarkRunCompleted(ctx context.Context, id string, completedAt time.Time, durationMS int64, slackTS, slackChannel, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, completed_at = ?, duration_ms = ?, slack_ts = ?, slack_channel = ?, message_id = ?, error_message = ''
		 WHERE id = ? AND status IN (?, ?)`,
		RunCompleted, fmtTime(completedAt), durationMS, slackTS, slackChannel, messageID,
		id, RunPending, RunRunning)
	return oneRow(res, err)
}

func (s *sqliteStore) MarkRunFailed(ctx context.Context, id string, completedAt time.Time, durationMS int64, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?
		 WHERE id = ? AND status IN (?, ?)`,
		RunFailed, fmtTime(completedAt), durationMS, errMsg,
		id, RunPending, RunRunning)
	return oneRow(res, err)
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
