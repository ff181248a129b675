package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"slackcourier/internal/query"
	"slackcourier/internal/storage"
)

type fakeRunner struct {
	res   *query.Result
	err   error
	calls int
}

func (f *fakeRunner) Execute(ctx context.Context, sqlText, scopeID string) (*query.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeRenderer struct {
	img   []byte
	err   error
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	f.calls++
	return f.img, f.err
}

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, nameHint, messageID, channelID string) (string, error) {
	f.calls++
	return f.url, f.err
}

func newTestProcessor(r *fakeRunner, rd *fakeRenderer, up *fakeUploader) *Processor {
	return NewProcessor(r, rd, up, discardLogger())
}

func vizMessage() *storage.Message {
	m := testMessage()
	m.QueryText = "SELECT region, revenue FROM sales"
	m.BlocksJSON = `[{"type":"image","image_url":"{{visualization_url}}","alt_text":"table"}]`
	return m
}

func oneRowResult() *query.Result {
	return &query.Result{Columns: []string{"region"}, Rows: []query.Row{{"region": "EMEA"}}}
}

func TestResolveFallbackTextWithRows(t *testing.T) {
	runner := &fakeRunner{res: &query.Result{Rows: []query.Row{{"a": 1}, {"a": 2}}}}
	p := newTestProcessor(runner, &fakeRenderer{}, &fakeUploader{})

	msg := testMessage()
	msg.QueryText = "SELECT 1"
	out, err := p.ResolveParent(context.Background(), msg, "", nil)
	require.NoError(t, err)
	require.Equal(t, "Weekly Revenue\n\nQuery returned 2 row(s).", out.Text)
	require.Empty(t, out.Blocks)
}

func TestResolveFallbackTextNoData(t *testing.T) {
	p := newTestProcessor(&fakeRunner{}, &fakeRenderer{}, &fakeUploader{})
	msg := testMessage()
	msg.QueryText = "SELECT 1"
	out, err := p.ResolveParent(context.Background(), msg, "", nil)
	require.NoError(t, err)
	require.Equal(t, "Weekly Revenue\n\nQuery executed but returned no data.", out.Text)
}

func TestResolveQueryFailureDegrades(t *testing.T) {
	runner := &fakeRunner{err: errors.New("engine down")}
	p := newTestProcessor(runner, &fakeRenderer{}, &fakeUploader{})
	msg := testMessage()
	msg.QueryText = "SELECT 1"

	out, err := p.ResolveParent(context.Background(), msg, "", nil)
	require.NoError(t, err)
	require.Equal(t, "Weekly Revenue\n\nQuery executed but returned no data.", out.Text)
}

func TestResolveRendersVisualizationWhenReferenced(t *testing.T) {
	runner := &fakeRunner{res: oneRowResult()}
	renderer := &fakeRenderer{img: []byte{1, 2, 3}}
	uploader := &fakeUploader{url: "https://cdn/table.png"}
	p := newTestProcessor(runner, renderer, uploader)

	out, err := p.ResolveParent(context.Background(), vizMessage(), "", nil)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/table.png", out.VizURL)
	require.Equal(t, 1, renderer.calls)
	require.Equal(t, 1, uploader.calls)

	// the URL landed inside the image block via substitution
	require.Len(t, out.Blocks, 1)
	require.Equal(t, "https://cdn/table.png", out.Blocks[0].Image.URL)
}

func TestResolveSkipsVisualizationWithoutToken(t *testing.T) {
	runner := &fakeRunner{res: oneRowResult()}
	renderer := &fakeRenderer{img: []byte{1}}
	p := newTestProcessor(runner, renderer, &fakeUploader{url: "https://cdn/x.png"})

	msg := vizMessage()
	msg.BlocksJSON = `[{"type":"section","text":{"type":"mrkdwn","text":"no image here"}}]`
	out, err := p.ResolveParent(context.Background(), msg, "", nil)
	require.NoError(t, err)
	require.Empty(t, out.VizURL)
	require.Zero(t, renderer.calls)
}

func TestResolveSkipsVisualizationWithoutData(t *testing.T) {
	renderer := &fakeRenderer{img: []byte{1}}
	p := newTestProcessor(&fakeRunner{}, renderer, &fakeUploader{url: "https://cdn/x.png"})

	out, err := p.ResolveParent(context.Background(), vizMessage(), "", nil)
	require.NoError(t, err)
	require.Empty(t, out.VizURL)
	require.Zero(t, renderer.calls)
	// the unresolved image block is invalid without a URL and gets dropped
	require.Empty(t, out.Blocks)
}

func TestResolveRenderFailureDegrades(t *testing.T) {
	runner := &fakeRunner{res: oneRowResult()}
	renderer := &fakeRenderer{err: errors.New("render down")}
	p := newTestProcessor(runner, renderer, &fakeUploader{url: "https://cdn/x.png"})

	out, err := p.ResolveParent(context.Background(), vizMessage(), "", nil)
	require.NoError(t, err)
	require.Empty(t, out.VizURL)
}

func TestResolveOverridesWin(t *testing.T) {
	p := newTestProcessor(&fakeRunner{res: oneRowResult()}, &fakeRenderer{}, &fakeUploader{})
	msg := testMessage()
	msg.QueryText = "SELECT 1"
	msg.BlocksJSON = `[{"type":"section","text":{"type":"mrkdwn","text":"stored"}}]`

	override := []byte(`[{"type":"section","text":{"type":"mrkdwn","text":"live {{region}}"}}]`)
	out, err := p.ResolveParent(context.Background(), msg, "Live text", override)
	require.NoError(t, err)
	require.Equal(t, "Live text", out.Text)
	require.Len(t, out.Blocks, 1)
	sec := out.Blocks[0].Section.Extra["text"].(map[string]any)
	require.Equal(t, "live EMEA", sec["text"])
}

func TestResolveBlocksDefaultText(t *testing.T) {
	p := newTestProcessor(&fakeRunner{}, &fakeRenderer{}, &fakeUploader{})
	msg := testMessage()
	msg.BlocksJSON = `[{"type":"divider"}]`
	out, err := p.ResolveParent(context.Background(), msg, "", nil)
	require.NoError(t, err)
	require.Equal(t, "Message from Weekly Revenue", out.Text)
}
