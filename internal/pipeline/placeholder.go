package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"slackcourier/internal/query"
	"slackcourier/internal/storage"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// VisualizationKey is the reserved placeholder resolved to the persisted
// image's public URL.
const VisualizationKey = "visualization_url"

// PlaceholderContext resolves `{{key}}` tokens. Unknown keys resolve to the
// empty string, never stay literal.
type PlaceholderContext struct {
	values map[string]string
	vizURL string
}

// NewPlaceholderContext builds the substitution context from the template
// name, scoping identifiers and the first result row's columns.
func NewPlaceholderContext(msg *storage.Message, res *query.Result, vizURL string) *PlaceholderContext {
	values := map[string]string{
		"template_name": msg.TemplateName,
		"workspace_id":  msg.WorkspaceID,
		"company_id":    msg.CompanyID,
		"channel_id":    msg.ChannelID,
	}
	if !res.Empty() {
		for k, v := range res.Rows[0] {
			values[k] = coerceString(v)
		}
	}
	return &PlaceholderContext{values: values, vizURL: vizURL}
}

func coerceString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Resolve returns the value for a placeholder key.
func (c *PlaceholderContext) Resolve(key string) string {
	key = strings.TrimSpace(key)
	if key == VisualizationKey {
		return c.vizURL
	}
	return c.values[key]
}

// SubstituteString replaces every `{{key}}` token in one string.
func (c *PlaceholderContext) SubstituteString(s string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		return c.Resolve(key)
	})
}

// SubstituteBlocks walks the typed block tree and substitutes only within
// string leaf values, so tokens can never corrupt structural JSON no matter
// how deeply blocks nest.
func (c *PlaceholderContext) SubstituteBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		switch b.Kind {
		case KindImage:
			img := *b.Image
			img.URL = c.SubstituteString(img.URL)
			img.Alt = c.SubstituteString(img.Alt)
			img.Extra = c.substituteMap(img.Extra)
			b.Image = &img
		case KindSection:
			sec := *b.Section
			sec.Accessory = c.substituteMap(sec.Accessory)
			sec.Extra = c.substituteMap(sec.Extra)
			b.Section = &sec
		case KindContext:
			ctx := *b.Context
			els := make([]map[string]any, len(ctx.Elements))
			for j, el := range ctx.Elements {
				els[j] = c.substituteMap(el)
			}
			ctx.Elements = els
			ctx.Extra = c.substituteMap(ctx.Extra)
			b.Context = &ctx
		default:
			b.Opaque = c.substituteMap(b.Opaque)
		}
		out[i] = b
	}
	return out
}

func (c *PlaceholderContext) substituteMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = c.substituteValue(v)
	}
	return out
}

func (c *PlaceholderContext) substituteValue(v any) any {
	switch x := v.(type) {
	case string:
		return c.SubstituteString(x)
	case map[string]any:
		return c.substituteMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = c.substituteValue(e)
		}
		return out
	default:
		return v
	}
}

// ContainsVisualizationToken reports whether serialized blocks reference the
// visualization placeholder; rendering is skipped entirely when they don't.
func ContainsVisualizationToken(raw string) bool {
	return strings.Contains(raw, "{{"+VisualizationKey+"}}")
}
