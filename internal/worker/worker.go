package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slackcourier/internal/fault"
	"slackcourier/internal/metrics"
	"slackcourier/internal/pipeline"
	"slackcourier/internal/queue"
	"slackcourier/internal/runs"
	"slackcourier/internal/slack"
	"slackcourier/internal/storage"
)

// Config controls the delivery worker pool.
type Config struct {
	Workers        int           // default 5
	DefaultTimeout time.Duration // per-job wall clock, default 2m
}

// Resolver turns a stored message into deliverable content.
// *pipeline.Processor satisfies this.
type Resolver interface {
	ResolveParent(ctx context.Context, msg *storage.Message, overrideText string, overrideBlocks []byte) (*pipeline.Resolved, error)
	ResolveChild(ctx context.Context, msg *storage.Message) (*pipeline.Resolved, error)
	RenderAndStore(ctx context.Context, html, fileName, messageID, channelID string) (string, error)
}

// Sender posts resolved content. *slack.Deliverer satisfies this.
type Sender interface {
	Deliver(ctx context.Context, token, channel string, parent *pipeline.Resolved, children []*pipeline.Resolved) (*slack.Outcome, error)
}

// Tokens resolves workspace tokens. *slack.TokenCache satisfies this.
type Tokens interface {
	Token(ctx context.Context, workspaceID string) (string, error)
}

// Service is the bounded pool draining due jobs from the queue. Each job runs
// the full lifecycle: pending row, running mark, content resolution, delivery,
// exactly one terminal transition, schedule time bump.
type Service struct {
	cfg        Config
	deliveries <-chan queue.Delivery

	store    storage.Store
	tracker  *runs.Tracker
	resolver Resolver
	tokens   Tokens
	sender   Sender
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, deliveries <-chan queue.Delivery, store storage.Store, tracker *runs.Tracker, resolver Resolver, tokens Tokens, sender Sender, m *metrics.Metrics, log *slog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	return &Service{
		cfg:        cfg,
		deliveries: deliveries,
		store:      store,
		tracker:    tracker,
		resolver:   resolver,
		tokens:     tokens,
		sender:     sender,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.run(stopCh)
	}
	s.log.Info("worker pool started", slog.Int("workers", s.cfg.Workers))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("worker pool stopped")
	case <-ctx.Done():
		s.log.Warn("worker pool stop timed out")
	}
}

func (s *Service) run(stopCh <-chan struct{}) {
	defer s.wg.Done()
	for {
		// fast exit: a pending stop wins over buffered deliveries
		select {
		case <-stopCh:
			return
		default:
		}
		select {
		case <-stopCh:
			return
		case d, ok := <-s.deliveries:
			if !ok {
				return
			}
			s.handle(d)
		}
	}
}

// handle runs one delivery end to end. Every exit path applies exactly one
// terminal transition and bumps the schedule's run times; a failing schedule
// that never advanced would fire again immediately forever.
func (s *Service) handle(d queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DefaultTimeout)
	defer cancel()

	job := d.Job
	runID, err := s.tracker.LogQueued(ctx, job.ScheduleID, d.FiredAt)
	if err != nil {
		s.log.Error("run row insert failed",
			slog.String("schedule", job.ScheduleID), slog.Any("err", err))
		return
	}
	s.metrics.JobsQueued.Inc()

	started := s.now()
	if err := s.tracker.MarkRunning(ctx, runID); err != nil {
		s.log.Error("running mark failed", slog.String("run", runID), slog.Any("err", err))
	}
	s.metrics.JobsRunning.Inc()

	res, sched, execErr := s.execute(ctx, job)
	durationMS := s.now().Sub(started).Milliseconds()

	// Bookkeeping gets its own context: when the job burned its whole
	// timeout, the terminal mark and the time bump must still land, or the
	// run is stuck in running and the schedule never advances.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer fcancel()

	if execErr != nil {
		s.metrics.JobsFailed.Inc()
		s.log.Warn("job failed",
			slog.String("run", runID),
			slog.String("schedule", job.ScheduleID),
			slog.Int64("duration_ms", durationMS),
			slog.Any("err", execErr))
		if err := s.tracker.MarkFailed(fctx, runID, durationMS, execErr); err != nil {
			s.log.Error("failed mark failed", slog.String("run", runID), slog.Any("err", err))
		}
	} else {
		s.metrics.JobsCompleted.Inc()
		s.log.Info("job completed",
			slog.String("run", runID),
			slog.String("schedule", job.ScheduleID),
			slog.String("ts", res.outcome.TS),
			slog.Int64("duration_ms", durationMS))
		if err := s.tracker.MarkCompleted(fctx, runID, durationMS, res.outcome.TS, res.outcome.Channel, res.messageID); err != nil {
			s.log.Error("completed mark failed", slog.String("run", runID), slog.Any("err", err))
		}
	}

	cronExpr, tz := "", ""
	if sched != nil {
		cronExpr, tz = sched.CronExpr, sched.Timezone
	}
	if err := s.tracker.BumpScheduleTimes(fctx, job.ScheduleID, cronExpr, tz, s.now()); err != nil {
		s.log.Error("schedule time bump failed",
			slog.String("schedule", job.ScheduleID), slog.Any("err", err))
	}
}

type execResult struct {
	outcome   *slack.Outcome
	messageID string
}

func (s *Service) execute(ctx context.Context, job queue.Job) (*execResult, *storage.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, job.ScheduleID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, nil, fault.NotFound("schedule", job.ScheduleID)
	}
	if err != nil {
		return nil, nil, err
	}
	if sched.Status != storage.ScheduleEnabled {
		return nil, sched, fmt.Errorf("schedule %s is not enabled", job.ScheduleID)
	}

	messageID := job.Payload.MessageID
	if messageID == "" {
		messageID = sched.MessageID
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, sched, fault.NotFound("message", messageID)
	}
	if err != nil {
		return nil, sched, err
	}

	var childMsgs []storage.Message
	if msg.IsParent {
		childMsgs, err = s.store.ListChildMessages(ctx, msg.ID)
		if err != nil {
			return nil, sched, err
		}
	}

	token, err := s.tokens.Token(ctx, msg.WorkspaceID)
	if err != nil {
		return nil, sched, err
	}

	parent, err := s.resolver.ResolveParent(ctx, msg, job.Payload.ParentText, job.Payload.ParentBlocks)
	if err != nil {
		return nil, sched, err
	}
	s.applyVisualizationOverride(ctx, job.Payload.Visualization, msg, parent)

	children := make([]*pipeline.Resolved, 0, len(childMsgs)+len(job.Payload.ReplyBlocks))
	for i := range childMsgs {
		child, err := s.resolver.ResolveChild(ctx, &childMsgs[i])
		if err != nil {
			// per-child isolation: one broken child never blocks its siblings
			s.log.Warn("child resolution failed",
				slog.String("child", childMsgs[i].ID), slog.Any("err", err))
			continue
		}
		children = append(children, child)
	}
	for i, raw := range job.Payload.ReplyBlocks {
		blocks, err := pipeline.ParseBlocks(raw)
		if err != nil {
			s.log.Warn("reply blocks parse failed", slog.Int("index", i), slog.Any("err", err))
			continue
		}
		children = append(children, &pipeline.Resolved{
			Text:   "Reply",
			Blocks: pipeline.ValidateBlocks(blocks, s.log),
		})
	}

	outcome, err := s.sender.Deliver(ctx, token, sched.ChannelID, parent, children)
	if err != nil {
		return nil, sched, err
	}
	return &execResult{outcome: outcome, messageID: messageID}, sched, nil
}

// applyVisualizationOverride honors a live payload's visualization: a ready
// image URL wins, otherwise raw HTML is rendered and persisted. Template-driven
// visualization from the resolver is never overwritten.
func (s *Service) applyVisualizationOverride(ctx context.Context, viz *queue.Visualization, msg *storage.Message, parent *pipeline.Resolved) {
	if viz == nil || parent.VizURL != "" {
		return
	}
	if viz.ImageURL != "" {
		parent.VizURL = viz.ImageURL
		parent.VizAlt = viz.Alt
		return
	}
	if viz.HTML == "" {
		return
	}
	url, err := s.resolver.RenderAndStore(ctx, viz.HTML, viz.FileName, msg.ID, msg.ChannelID)
	if err != nil {
		s.log.Warn("payload visualization render failed",
			slog.String("message", msg.ID), slog.Any("err", err))
		return
	}
	parent.VizURL = url
	parent.VizAlt = viz.Alt
}
