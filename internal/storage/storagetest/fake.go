// Package storagetest provides an in-memory Store for tests in packages that
// depend on storage without wanting a real sqlite file.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"slackcourier/internal/storage"
)

// Fake implements storage.Store with the same transition guards as the sqlite
// store. Exported maps allow direct seeding and inspection.
type Fake struct {
	mu        sync.Mutex
	Schedules map[string]*storage.Schedule
	Messages  map[string]*storage.Message
	Tokens    map[string]string
	Runs      map[string]*storage.JobRun
}

func NewFake() *Fake {
	return &Fake{
		Schedules: map[string]*storage.Schedule{},
		Messages:  map[string]*storage.Message{},
		Tokens:    map[string]string{},
		Runs:      map[string]*storage.JobRun{},
	}
}

func (f *Fake) GetSchedule(ctx context.Context, id string) (*storage.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Schedules[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) ListEnabledSchedules(ctx context.Context) ([]storage.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Schedule
	for _, s := range f.Schedules {
		if s.Status == storage.ScheduleEnabled {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) SetScheduleStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Schedules[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *Fake) UpdateScheduleRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Schedules[id]
	if !ok {
		return nil
	}
	lr := lastRun
	s.LastRunAt = &lr
	if nextRun != nil {
		nr := *nextRun
		s.NextRunAt = &nr
	}
	return nil
}

func (f *Fake) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Messages[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (f *Fake) ListChildMessages(ctx context.Context, parentID string) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Message
	for _, m := range f.Messages {
		if m.ParentMessageID == parentID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *Fake) GetToken(ctx context.Context, workspaceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.Tokens[workspaceID]
	if !ok {
		return "", storage.ErrNoRows
	}
	return tok, nil
}

func (f *Fake) InsertJobRun(ctx context.Context, run *storage.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.Runs[run.ID] = &cp
	return nil
}

func (f *Fake) GetJobRun(ctx context.Context, id string) (*storage.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) MarkRunRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok || r.Status != storage.RunPending {
		return false, nil
	}
	r.Status = storage.RunRunning
	t := startedAt
	r.StartedAt = &t
	return true, nil
}

func (f *Fake) MarkRunCompleted(ctx context.Context, id string, completedAt time.Time, durationMS int64, slackTS, slackChannel, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok || terminal(r.Status) {
		return false, nil
	}
	r.Status = storage.RunCompleted
	t := completedAt
	r.CompletedAt = &t
	r.DurationMS = &durationMS
	r.SlackTS = slackTS
	r.SlackChannel = slackChannel
	r.MessageID = messageID
	r.ErrorMessage = ""
	return true, nil
}

func (f *Fake) MarkRunFailed(ctx context.Context, id string, completedAt time.Time, durationMS int64, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok || terminal(r.Status) {
		return false, nil
	}
	r.Status = storage.RunFailed
	t := completedAt
	r.CompletedAt = &t
	r.DurationMS = &durationMS
	r.ErrorMessage = errMsg
	return true, nil
}

func (f *Fake) Close() error { return nil }

// RunCount reports how many runs currently hold the given status. Safe to
// call while workers are writing.
func (f *Fake) RunCount(status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.Runs {
		if r.Status == status {
			n++
		}
	}
	return n
}

func terminal(status string) bool {
	return status == storage.RunCompleted || status == storage.RunFailed
}
