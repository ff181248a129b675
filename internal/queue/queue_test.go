package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRepeatKeyRoundTrip(t *testing.T) {
	cases := []RepeatKey{
		{ScheduleID: "sched-1", Cron: "0 9 * * 1", Timezone: "America/New_York"},
		{ScheduleID: "sched-2", Cron: "*/5 * * * *", Timezone: "UTC"},
		{ScheduleID: "sched-3", Cron: "0 0 1 1 *", Timezone: ""},
	}
	for _, k := range cases {
		got, err := ParseRepeatKey(k.String())
		if err != nil {
			t.Fatalf("ParseRepeatKey(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("round trip mismatch: %+v != %+v", got, k)
		}
	}
}

func TestParseRepeatKeyMalformed(t *testing.T) {
	for _, s := range []string{"", "no-separators", "only@one"} {
		if _, err := ParseRepeatKey(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestNextAfterHonorsTimezone(t *testing.T) {
	// 9:00 Monday in New York is 13:00 or 14:00 UTC depending on DST.
	from := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) // Sunday
	next, err := NextAfter("0 9 * * 1", "America/New_York", from)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC) // Monday, EDT
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextAfterBadExpression(t *testing.T) {
	if _, err := NextAfter("not a cron", "UTC", time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpsertRepeatableSameKeyReplaces(t *testing.T) {
	q := NewMem(Config{}, discardLogger())
	ctx := context.Background()
	key := RepeatKey{ScheduleID: "s1", Cron: "0 9 * * 1", Timezone: "UTC"}

	if err := q.UpsertRepeatable(ctx, key, Job{ScheduleID: "s1", Payload: Payload{MessageID: "m1"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := q.UpsertRepeatable(ctx, key, Job{ScheduleID: "s1", Payload: Payload{MessageID: "m2"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	keys, err := q.ListRepeatable(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(keys))
	}
	if q.entries[key.String()].job.Payload.MessageID != "m2" {
		t.Fatalf("payload not replaced")
	}
}

func TestUpsertRepeatableRejectsBadCron(t *testing.T) {
	q := NewMem(Config{}, discardLogger())
	key := RepeatKey{ScheduleID: "s1", Cron: "banana", Timezone: "UTC"}
	if err := q.UpsertRepeatable(context.Background(), key, Job{ScheduleID: "s1"}); err == nil {
		t.Fatalf("expected error for bad cron")
	}
}

func TestRemoveRepeatable(t *testing.T) {
	q := NewMem(Config{}, discardLogger())
	ctx := context.Background()
	key := RepeatKey{ScheduleID: "s1", Cron: "0 9 * * 1", Timezone: "UTC"}

	removed, err := q.RemoveRepeatable(ctx, key)
	if err != nil || removed {
		t.Fatalf("remove of absent key = (%v, %v), want (false, nil)", removed, err)
	}

	if err := q.UpsertRepeatable(ctx, key, Job{ScheduleID: "s1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	removed, err = q.RemoveRepeatable(ctx, key)
	if err != nil || !removed {
		t.Fatalf("remove = (%v, %v), want (true, nil)", removed, err)
	}
	keys, _ := q.ListRepeatable(ctx, "s1")
	if len(keys) != 0 {
		t.Fatalf("expected no registrations, got %d", len(keys))
	}
}

func TestListRepeatableScopedToSchedule(t *testing.T) {
	q := NewMem(Config{}, discardLogger())
	ctx := context.Background()
	for _, k := range []RepeatKey{
		{ScheduleID: "s1", Cron: "0 9 * * 1", Timezone: "UTC"},
		{ScheduleID: "s1", Cron: "0 10 * * 2", Timezone: "UTC"},
		{ScheduleID: "s2", Cron: "0 9 * * 1", Timezone: "UTC"},
	} {
		if err := q.UpsertRepeatable(ctx, k, Job{ScheduleID: k.ScheduleID}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	keys, err := q.ListRepeatable(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 registrations for s1, got %d", len(keys))
	}
}

func TestEnqueueDeliversImmediately(t *testing.T) {
	q := NewMem(Config{QueueSize: 1}, discardLogger())
	ctx := context.Background()

	job := Job{ScheduleID: "s1", Payload: Payload{MessageID: "m1"}}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case d := <-q.Deliveries():
		if d.Job.ScheduleID != "s1" || d.Job.Payload.MessageID != "m1" {
			t.Fatalf("unexpected delivery: %+v", d.Job)
		}
		if d.FiredAt.IsZero() {
			t.Fatalf("FiredAt not set")
		}
	case <-time.After(time.Second):
		t.Fatalf("no delivery")
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q := NewMem(Config{QueueSize: 1}, discardLogger())
	ctx := context.Background()

	if err := q.Enqueue(ctx, Job{ScheduleID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, Job{ScheduleID: "s2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	// draining frees capacity
	<-q.Deliveries()
	if err := q.Enqueue(ctx, Job{ScheduleID: "s3"}); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
}
