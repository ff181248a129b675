package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"slackcourier/internal/objstore"
	"slackcourier/internal/query"
	"slackcourier/internal/render"
	"slackcourier/internal/storage"
	"slackcourier/internal/tablerender"
)

// Processor resolves a message template into deliverable content: query
// result, rendered visualization, placeholder substitution, validation.
// Every external failure inside resolution degrades instead of aborting:
// a broken query becomes "no data", a failed render becomes
// no-visualization.
type Processor struct {
	queries query.Runner
	render  render.Renderer
	uploads objstore.Uploader
	log     *slog.Logger
}

func NewProcessor(queries query.Runner, renderer render.Renderer, uploads objstore.Uploader, log *slog.Logger) *Processor {
	return &Processor{queries: queries, render: renderer, uploads: uploads, log: log}
}

// Resolved is finalized content ready for delivery.
type Resolved struct {
	Text   string
	Blocks []Block
	// VizURL is the public URL of the persisted visualization image, empty
	// when rendering was skipped or failed.
	VizURL string
	// VizAlt is the alt text for the visualization; empty gets a generic
	// label at delivery time.
	VizAlt string
}

// ResolveParent resolves the parent message. A live payload's non-empty text
// or blocks take precedence over the template-stored blocks.
func (p *Processor) ResolveParent(ctx context.Context, msg *storage.Message, overrideText string, overrideBlocks []byte) (*Resolved, error) {
	return p.resolve(ctx, msg, overrideText, overrideBlocks)
}

// ResolveChild resolves a child message identically to a parent; threading is
// the delivery engine's concern.
func (p *Processor) ResolveChild(ctx context.Context, msg *storage.Message) (*Resolved, error) {
	return p.resolve(ctx, msg, "", nil)
}

func (p *Processor) resolve(ctx context.Context, msg *storage.Message, overrideText string, overrideBlocks []byte) (*Resolved, error) {
	var res *query.Result
	if msg.QueryText != "" {
		r, err := p.queries.Execute(ctx, msg.QueryText, msg.CompanyID)
		if err != nil {
			// Degrades to "no data"; a broken query never aborts delivery.
			p.log.Warn("query execution failed",
				slog.String("message", msg.ID), slog.Any("err", err))
		} else {
			res = r
		}
	}

	rawBlocks := msg.BlocksJSON
	if len(overrideBlocks) > 0 {
		rawBlocks = string(overrideBlocks)
	}

	vizURL := p.resolveVisualization(ctx, msg, rawBlocks, res)

	blocks, err := ParseBlocks([]byte(rawBlocks))
	if err != nil {
		p.log.Warn("block parse failed, falling back to text",
			slog.String("message", msg.ID), slog.Any("err", err))
		blocks = nil
	}

	out := &Resolved{VizURL: vizURL}
	if len(blocks) > 0 {
		pctx := NewPlaceholderContext(msg, res, vizURL)
		if vizURL == "" && ContainsVisualizationToken(rawBlocks) {
			p.log.Warn("no image available for visualization placeholder",
				slog.String("message", msg.ID))
		}
		out.Blocks = ValidateBlocks(pctx.SubstituteBlocks(blocks), p.log)
		out.Text = overrideText
		if out.Text == "" {
			out.Text = fmt.Sprintf("Message from %s", msg.TemplateName)
		}
		return out, nil
	}

	out.Text = fallbackText(msg, res, overrideText)
	return out, nil
}

// resolveVisualization renders and persists a table image only when the
// blocks reference the visualization placeholder and there is data to show.
func (p *Processor) resolveVisualization(ctx context.Context, msg *storage.Message, rawBlocks string, res *query.Result) string {
	if !ContainsVisualizationToken(rawBlocks) || res.Empty() {
		return ""
	}

	html := tablerender.Render(res, tablerender.ParseVizConfig(msg.VizConfigJSON), msg.TemplateName)
	if html == "" {
		return ""
	}

	img, err := p.render.Render(ctx, html)
	if err != nil {
		p.log.Warn("visualization render failed",
			slog.String("message", msg.ID), slog.Any("err", err))
		return ""
	}

	url, err := p.uploads.Upload(ctx, img, msg.TemplateName+"_table.png", msg.ID, msg.ChannelID)
	if err != nil {
		p.log.Warn("visualization upload failed",
			slog.String("message", msg.ID), slog.Any("err", err))
		return ""
	}
	return url
}

// RenderAndStore renders caller-supplied HTML and persists it, for live jobs
// that carry their own visualization instead of a query-driven table.
func (p *Processor) RenderAndStore(ctx context.Context, html, fileName, messageID, channelID string) (string, error) {
	img, err := p.render.Render(ctx, html)
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = "visualization.png"
	}
	return p.uploads.Upload(ctx, img, fileName, messageID, channelID)
}

func fallbackText(msg *storage.Message, res *query.Result, overrideText string) string {
	if overrideText != "" {
		return overrideText
	}
	text := msg.TemplateName
	if !res.Empty() {
		text += fmt.Sprintf("\n\nQuery returned %d row(s).", len(res.Rows))
	} else if msg.QueryText != "" {
		text += "\n\nQuery executed but returned no data."
	}
	return text
}
