package slack

import (
	"context"
	"errors"
	"log/slog"

	"slackcourier/internal/pipeline"
)

// Deliverer posts resolved content: one parent message, then each child as a
// threaded reply in stored order. Parent failure aborts the whole delivery;
// a failed reply or visualization upload is logged and skipped so one bad
// child never blocks its siblings.
type Deliverer struct {
	client *Client
	log    *slog.Logger
}

func NewDeliverer(client *Client, log *slog.Logger) *Deliverer {
	return &Deliverer{client: client, log: log}
}

// Outcome identifies the delivered parent message.
type Outcome struct {
	TS      string
	Channel string
}

func (d *Deliverer) Deliver(ctx context.Context, token, channel string, parent *pipeline.Resolved, children []*pipeline.Resolved) (*Outcome, error) {
	blocks, uploadViz := d.placeVisualization(ctx, parent)

	res, err := d.post(ctx, token, channel, "", parent.Text, blocks)
	if err != nil {
		return nil, err
	}

	if uploadViz {
		d.uploadVisualization(ctx, token, res.Channel, res.TS, parent.VizURL)
	}

	for i, child := range children {
		cblocks, cupload := d.placeVisualization(ctx, child)
		cres, err := d.post(ctx, token, res.Channel, res.TS, child.Text, cblocks)
		if err != nil {
			d.log.Warn("threaded reply failed",
				slog.Int("position", i), slog.Any("err", err))
			continue
		}
		if cupload {
			d.uploadVisualization(ctx, token, cres.Channel, res.TS, child.VizURL)
		}
	}

	return &Outcome{TS: res.TS, Channel: res.Channel}, nil
}

// placeVisualization decides embed vs upload for a resolved visualization.
// Embeddable images become an image block; anything the platform cannot fetch
// itself is uploaded into the thread after posting.
func (d *Deliverer) placeVisualization(ctx context.Context, content *pipeline.Resolved) ([]pipeline.Block, bool) {
	if content.VizURL == "" {
		return content.Blocks, false
	}
	if d.client.ProbeImage(ctx, content.VizURL) {
		alt := content.VizAlt
		if alt == "" {
			alt = "Visualization"
		}
		return pipeline.EnsureImage(content.Blocks, content.VizURL, alt), false
	}
	d.log.Info("visualization not embeddable, will upload to thread",
		slog.String("url", content.VizURL))
	return content.Blocks, true
}

// post sends one message, degrading to text-only when the platform rejects
// the block payload. Losing layout beats losing the delivery.
func (d *Deliverer) post(ctx context.Context, token, channel, threadTS, text string, blocks []pipeline.Block) (*SendResult, error) {
	raw, err := pipeline.MarshalBlocks(blocks)
	if err != nil {
		d.log.Warn("block serialization failed, sending text only", slog.Any("err", err))
		raw = nil
	}

	res, err := d.client.PostMessage(ctx, SendRequest{
		Token:    token,
		Channel:  channel,
		Text:     text,
		Blocks:   raw,
		ThreadTS: threadTS,
	})
	if err == nil || len(raw) == 0 {
		return res, err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "invalid_blocks" {
		d.log.Warn("blocks rejected, retrying as text only", slog.String("channel", channel))
		return d.client.PostMessage(ctx, SendRequest{
			Token:    token,
			Channel:  channel,
			Text:     text,
			ThreadTS: threadTS,
		})
	}
	return nil, err
}

func (d *Deliverer) uploadVisualization(ctx context.Context, token, channel, threadTS, url string) {
	data, err := d.client.FetchImage(ctx, url)
	if err != nil {
		d.log.Warn("visualization download failed", slog.String("url", url), slog.Any("err", err))
		return
	}
	if err := d.client.UploadFile(ctx, token, channel, threadTS, "visualization.png", data); err != nil {
		d.log.Warn("visualization upload failed", slog.String("url", url), slog.Any("err", err))
	}
}
