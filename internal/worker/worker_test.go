package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slackcourier/internal/metrics"
	"slackcourier/internal/pipeline"
	"slackcourier/internal/queue"
	"slackcourier/internal/runs"
	"slackcourier/internal/slack"
	"slackcourier/internal/storage"
	"slackcourier/internal/storage/storagetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeResolver struct {
	err error
}

func (f *fakeResolver) ResolveParent(ctx context.Context, msg *storage.Message, overrideText string, overrideBlocks []byte) (*pipeline.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	text := overrideText
	if text == "" {
		text = msg.TemplateName
	}
	return &pipeline.Resolved{Text: text}, nil
}

func (f *fakeResolver) ResolveChild(ctx context.Context, msg *storage.Message) (*pipeline.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Resolved{Text: msg.TemplateName}, nil
}

func (f *fakeResolver) RenderAndStore(ctx context.Context, html, fileName, messageID, channelID string) (string, error) {
	return "https://cdn/override.png", nil
}

type fakeSender struct {
	err      error
	parents  []*pipeline.Resolved
	children [][]*pipeline.Resolved
	channels []string
}

func (f *fakeSender) Deliver(ctx context.Context, token, channel string, parent *pipeline.Resolved, children []*pipeline.Resolved) (*slack.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.parents = append(f.parents, parent)
	f.children = append(f.children, children)
	f.channels = append(f.channels, channel)
	return &slack.Outcome{TS: "1725097600.0001", Channel: channel}, nil
}

// stuckSender holds the delivery until the job context expires.
type stuckSender struct{}

func (s *stuckSender) Deliver(ctx context.Context, token, channel string, parent *pipeline.Resolved, children []*pipeline.Resolved) (*slack.Outcome, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeTokens struct{ token string }

func (f *fakeTokens) Token(ctx context.Context, workspaceID string) (string, error) {
	return f.token, nil
}

type fixture struct {
	store   *storagetest.Fake
	tracker *runs.Tracker
	sender  *fakeSender
	svc     *Service
}

func newFixture(t *testing.T, sender *fakeSender, resolver Resolver) *fixture {
	t.Helper()
	store := storagetest.NewFake()
	store.Schedules["s1"] = &storage.Schedule{
		ID: "s1", WorkspaceID: "W1", ChannelID: "C1", MessageID: "m1",
		CronExpr: "0 9 * * 1", Timezone: "America/New_York",
		Status: storage.ScheduleEnabled,
	}
	store.Messages["m1"] = &storage.Message{
		ID: "m1", WorkspaceID: "W1", CompanyID: "CO1", ChannelID: "C1",
		TemplateName: "Weekly Revenue", IsParent: true,
	}
	store.Messages["m2"] = &storage.Message{
		ID: "m2", WorkspaceID: "W1", TemplateName: "Detail B", ParentMessageID: "m1", Position: 2,
	}
	store.Messages["m3"] = &storage.Message{
		ID: "m3", WorkspaceID: "W1", TemplateName: "Detail A", ParentMessageID: "m1", Position: 1,
	}
	store.Tokens["W1"] = "xoxb-1"

	tracker := runs.New(store, discardLogger())
	svc := New(Config{Workers: 1}, nil, store, tracker, resolver, &fakeTokens{token: "xoxb-1"}, sender, metrics.New(), discardLogger())
	return &fixture{store: store, tracker: tracker, sender: sender, svc: svc}
}

func singleRun(t *testing.T, f *fixture) *storage.JobRun {
	t.Helper()
	require.Len(t, f.store.Runs, 1)
	for _, r := range f.store.Runs {
		return r
	}
	return nil
}

func TestHandleCompletedRun(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})

	f.svc.handle(queue.Delivery{
		Job:     queue.Job{ScheduleID: "s1", Payload: queue.Payload{MessageID: "m1"}},
		FiredAt: time.Now(),
	})

	run := singleRun(t, f)
	require.Equal(t, storage.RunCompleted, run.Status)
	require.Equal(t, "1725097600.0001", run.SlackTS)
	require.Equal(t, "C1", run.SlackChannel)
	require.Equal(t, "m1", run.MessageID)
	require.NotNil(t, run.DurationMS)

	// children resolved in stored order
	require.Len(t, sender.children, 1)
	require.Len(t, sender.children[0], 2)
	require.Equal(t, "Detail A", sender.children[0][0].Text)
	require.Equal(t, "Detail B", sender.children[0][1].Text)
	require.Equal(t, "C1", sender.channels[0])

	// schedule advanced past this run
	sched := f.store.Schedules["s1"]
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
	require.True(t, sched.NextRunAt.After(*sched.LastRunAt))
}

func TestHandleDeliveryFailure(t *testing.T) {
	sender := &fakeSender{err: &slack.APIError{Code: "channel_not_found", Hint: "channel does not exist or the app cannot see it"}}
	f := newFixture(t, sender, &fakeResolver{})

	f.svc.handle(queue.Delivery{
		Job:     queue.Job{ScheduleID: "s1", Payload: queue.Payload{MessageID: "m1"}},
		FiredAt: time.Now(),
	})

	run := singleRun(t, f)
	require.Equal(t, storage.RunFailed, run.Status)
	require.Contains(t, run.ErrorMessage, "channel_not_found")

	// a failing schedule still advances, otherwise it would spin forever
	sched := f.store.Schedules["s1"]
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
}

func TestHandleDisabledSchedule(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})
	f.store.Schedules["s1"].Status = storage.ScheduleDisabled

	f.svc.handle(queue.Delivery{
		Job:     queue.Job{ScheduleID: "s1"},
		FiredAt: time.Now(),
	})

	run := singleRun(t, f)
	require.Equal(t, storage.RunFailed, run.Status)
	require.Empty(t, sender.parents)
}

func TestHandleMissingSchedule(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})

	f.svc.handle(queue.Delivery{
		Job:     queue.Job{ScheduleID: "ghost"},
		FiredAt: time.Now(),
	})

	run := singleRun(t, f)
	require.Equal(t, storage.RunFailed, run.Status)
	require.Contains(t, run.ErrorMessage, "not found")
}

func TestHandleTimedOutJobStillFinalizes(t *testing.T) {
	f := newFixture(t, &fakeSender{}, &fakeResolver{})
	f.svc.sender = &stuckSender{}
	f.svc.cfg.DefaultTimeout = 50 * time.Millisecond

	f.svc.handle(queue.Delivery{
		Job:     queue.Job{ScheduleID: "s1", Payload: queue.Payload{MessageID: "m1"}},
		FiredAt: time.Now(),
	})

	// the expired job context must not block the terminal mark or the bump
	run := singleRun(t, f)
	require.Equal(t, storage.RunFailed, run.Status)
	require.Contains(t, run.ErrorMessage, "context deadline exceeded")

	sched := f.store.Schedules["s1"]
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
}

func TestHandlePayloadOverrides(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})

	f.svc.handle(queue.Delivery{
		Job: queue.Job{ScheduleID: "s1", Payload: queue.Payload{
			MessageID:  "m1",
			ParentText: "Live override",
			Visualization: &queue.Visualization{
				ImageURL: "https://cdn/live.png",
				Alt:      "Q3 revenue",
			},
		}},
		FiredAt: time.Now(),
	})

	require.Len(t, sender.parents, 1)
	require.Equal(t, "Live override", sender.parents[0].Text)
	require.Equal(t, "https://cdn/live.png", sender.parents[0].VizURL)
	require.Equal(t, "Q3 revenue", sender.parents[0].VizAlt)
}

func TestHandlePayloadVisualizationHTML(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})

	f.svc.handle(queue.Delivery{
		Job: queue.Job{ScheduleID: "s1", Payload: queue.Payload{
			MessageID:     "m1",
			Visualization: &queue.Visualization{HTML: "<table></table>"},
		}},
		FiredAt: time.Now(),
	})

	require.Len(t, sender.parents, 1)
	require.Equal(t, "https://cdn/override.png", sender.parents[0].VizURL)
}

func TestPoolDrainsQueue(t *testing.T) {
	sender := &fakeSender{}
	f := newFixture(t, sender, &fakeResolver{})

	ch := make(chan queue.Delivery, 4)
	f.svc.deliveries = ch
	f.svc.Start(context.Background())
	defer f.svc.Stop(context.Background())

	for i := 0; i < 3; i++ {
		ch <- queue.Delivery{Job: queue.Job{ScheduleID: "s1", Payload: queue.Payload{MessageID: "m1"}}, FiredAt: time.Now()}
	}

	deadline := time.After(3 * time.Second)
	for {
		if f.store.RunCount(storage.RunCompleted) == 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("only %d runs completed", f.store.RunCount(storage.RunCompleted))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
