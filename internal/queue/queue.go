package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrQueueFull is returned by Enqueue when the delivery buffer is saturated.
var ErrQueueFull = errors.New("queue full")

// Visualization describes an image to attach to a delivery, either by public
// URL or as HTML still to be rendered.
type Visualization struct {
	ImageURL string `json:"imageUrl,omitempty"`
	HTML     string `json:"html,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Alt      string `json:"alt,omitempty"`
}

// Payload is the live override carried by a job. Blocks stay serialized here;
// the pipeline owns their typed form.
type Payload struct {
	ParentText    string            `json:"parentText,omitempty"`
	ParentBlocks  json.RawMessage   `json:"parentBlocks,omitempty"`
	ReplyBlocks   []json.RawMessage `json:"replyBlocks,omitempty"`
	Visualization *Visualization    `json:"visualization,omitempty"`
	MessageID     string            `json:"messageId,omitempty"`
}

// Job is the queue job payload. Content is intentionally NOT materialized at
// schedule time; the worker resolves it at execution time so template edits
// are always picked up.
type Job struct {
	ScheduleID string  `json:"scheduleId"`
	Payload    Payload `json:"payload"`
}

// Delivery is one at-least-once handoff of a due job to the worker pool.
type Delivery struct {
	Job     Job
	FiredAt time.Time
}

// RepeatKey identifies a recurring registration. The string form is
// deterministic so duplicate registration attempts dedupe naturally on the
// queue's own key semantics.
type RepeatKey struct {
	ScheduleID string
	Cron       string
	Timezone   string
}

func (k RepeatKey) String() string {
	return k.ScheduleID + "@" + k.Cron + "@" + k.Timezone
}

// HasSchedulePrefix reports whether the key belongs to the given schedule.
func (k RepeatKey) HasSchedulePrefix(scheduleID string) bool {
	return k.ScheduleID == scheduleID
}

// ParseRepeatKey parses the `scheduleId@cron@timezone` form. The cron part
// may itself contain no '@'; schedule ids and timezones never do.
func ParseRepeatKey(s string) (RepeatKey, error) {
	first := strings.Index(s, "@")
	last := strings.LastIndex(s, "@")
	if first < 0 || first == last {
		return RepeatKey{}, fmt.Errorf("malformed repeat key %q", s)
	}
	return RepeatKey{
		ScheduleID: s[:first],
		Cron:       s[first+1 : last],
		Timezone:   s[last+1:],
	}, nil
}

// Queue is the external at-least-once queue contract: repeatable jobs keyed
// deterministically plus immediate one-shot enqueue.
type Queue interface {
	UpsertRepeatable(ctx context.Context, key RepeatKey, job Job) error
	ListRepeatable(ctx context.Context, scheduleID string) ([]RepeatKey, error)
	RemoveRepeatable(ctx context.Context, key RepeatKey) (bool, error)
	Enqueue(ctx context.Context, job Job) error
}
