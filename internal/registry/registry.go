package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"slackcourier/internal/fault"
	"slackcourier/internal/queue"
	"slackcourier/internal/storage"
)

// Registry reconciles schedule definitions with recurring registrations in
// the queue. It touches queue state only; JobRun records belong to the
// tracker.
type Registry struct {
	store storage.Store
	q     queue.Queue
	log   *slog.Logger
}

func New(store storage.Store, q queue.Queue, log *slog.Logger) *Registry {
	return &Registry{store: store, q: q, log: log}
}

// SetSchedule registers or cancels the recurring job for a schedule and
// returns the number of stale registrations removed.
//
// Changing cron or timezone changes the registration key, so the sweep of
// existing keys is mandatory; overwriting alone would leave two live
// registrations firing for one schedule.
func (r *Registry) SetSchedule(ctx context.Context, scheduleID, cronExpr, timezone string, enabled bool) (int, error) {
	if strings.TrimSpace(scheduleID) == "" {
		return 0, fault.Validationf("scheduleId", "required")
	}

	if !enabled {
		return r.sweep(ctx, scheduleID)
	}

	if strings.TrimSpace(cronExpr) == "" {
		return 0, fault.Validationf("cron", "required when enabling a schedule")
	}

	sched, err := r.store.GetSchedule(ctx, scheduleID)
	if errors.Is(err, storage.ErrNoRows) {
		return 0, fault.NotFound("schedule", scheduleID)
	}
	if err != nil {
		return 0, err
	}

	removed, err := r.sweep(ctx, scheduleID)
	if err != nil {
		return removed, err
	}

	key := queue.RepeatKey{ScheduleID: scheduleID, Cron: cronExpr, Timezone: timezone}
	job := queue.Job{
		ScheduleID: scheduleID,
		// Content is resolved at execution time; only the template reference
		// travels with the registration so template edits are never stale.
		Payload: queue.Payload{MessageID: sched.MessageID},
	}
	if err := r.q.UpsertRepeatable(ctx, key, job); err != nil {
		return removed, fault.Validationf("cron", "invalid expression %q: %v", cronExpr, err)
	}
	r.log.Info("schedule registered",
		slog.String("schedule", scheduleID),
		slog.String("key", key.String()),
		slog.Int("swept", removed))
	return removed, nil
}

// sweep removes every registration keyed to the schedule. Absence of any
// match is not an error.
func (r *Registry) sweep(ctx context.Context, scheduleID string) (int, error) {
	keys, err := r.q.ListRepeatable(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		ok, err := r.q.RemoveRepeatable(ctx, k)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// RecoverAll re-registers a recurring job for every enabled schedule. Run at
// process start so a queue wipe is self-healing. Individual failures are
// logged and skipped.
func (r *Registry) RecoverAll(ctx context.Context) error {
	scheds, err := r.store.ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}
	for _, s := range scheds {
		if _, err := r.SetSchedule(ctx, s.ID, s.CronExpr, s.Timezone, true); err != nil {
			r.log.Warn("schedule recovery failed",
				slog.String("schedule", s.ID), slog.Any("err", err))
		}
	}
	r.log.Info("schedule recovery finished", slog.Int("count", len(scheds)))
	return nil
}
