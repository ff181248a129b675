package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the in-process queue.
type Config struct {
	QueueSize int // default 256
}

type entry struct {
	key RepeatKey
	job Job
	id  cron.EntryID
}

// MemQueue is an in-process Queue backed by robfig/cron. Repeatable jobs are
// keyed deterministically; an upsert with an existing key replaces the entry,
// never duplicates it. Due jobs are handed to the worker pool through a
// buffered channel.
type MemQueue struct {
	mu sync.Mutex

	log *slog.Logger
	cfg Config

	c       *cron.Cron
	entries map[string]*entry

	out    chan Delivery
	stopCh chan struct{}
}

func NewMem(cfg Config, log *slog.Logger) *MemQueue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &MemQueue{
		log:     log,
		cfg:     cfg,
		entries: map[string]*entry{},
		out:     make(chan Delivery, cfg.QueueSize),
	}
}

// Deliveries is the channel the worker pool drains.
func (q *MemQueue) Deliveries() <-chan Delivery { return q.out }

func (q *MemQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		return
	}
	q.stopCh = make(chan struct{})
	q.c = cron.New()
	for _, e := range q.entries {
		q.scheduleLocked(e)
	}
	q.c.Start()
	q.log.Info("queue started", slog.Int("repeatables", len(q.entries)))
}

func (q *MemQueue) Stop(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh == nil {
		return
	}
	close(q.stopCh)
	q.stopCh = nil
	if q.c != nil {
		<-q.c.Stop().Done()
		q.c = nil
	}
	q.log.Info("queue stopped")
}

func (q *MemQueue) UpsertRepeatable(ctx context.Context, key RepeatKey, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ks := key.String()
	if old, ok := q.entries[ks]; ok {
		// same key, replace payload; the firing schedule is unchanged by
		// definition (the key embeds cron and timezone).
		old.job = job
		return nil
	}

	e := &entry{key: key, job: job}
	if q.c != nil {
		if err := q.scheduleLocked(e); err != nil {
			return err
		}
	} else {
		// not started yet; validate the cron spec so a bad expression
		// fails at registration time, not at Start
		if _, err := cron.ParseStandard(specFor(key.Cron, key.Timezone)); err != nil {
			return err
		}
	}
	q.entries[ks] = e
	return nil
}

func (q *MemQueue) scheduleLocked(e *entry) error {
	ent := e // capture
	id, err := q.c.AddFunc(specFor(e.key.Cron, e.key.Timezone), func() {
		q.fire(ent.job)
	})
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (q *MemQueue) ListRepeatable(ctx context.Context, scheduleID string) ([]RepeatKey, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []RepeatKey
	for _, e := range q.entries {
		if e.key.HasSchedulePrefix(scheduleID) {
			out = append(out, e.key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (q *MemQueue) RemoveRepeatable(ctx context.Context, key RepeatKey) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key.String()]
	if !ok {
		return false, nil
	}
	if q.c != nil {
		q.c.Remove(e.id)
	}
	delete(q.entries, key.String())
	return true, nil
}

// Enqueue hands a one-shot job straight to the workers. Like recurring fires,
// it never blocks the caller on a saturated pool.
func (q *MemQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.out <- Delivery{Job: job, FiredAt: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemQueue) fire(job Job) {
	select {
	case q.out <- Delivery{Job: job, FiredAt: time.Now()}:
	default:
		q.log.Warn("queue full, dropping due job", slog.String("schedule", job.ScheduleID))
	}
}
