package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
)

// BlockKind tags the block union. Only the kinds this service actually
// inspects are typed; everything else passes through opaque, preserving
// round-trip fidelity without full schema coverage.
type BlockKind int

const (
	KindOpaque BlockKind = iota
	KindSection
	KindImage
	KindContext
)

// Block is one messaging block.
type Block struct {
	Kind    BlockKind
	Image   *ImageBlock
	Section *SectionBlock
	Context *ContextBlock
	Opaque  map[string]any
}

// ImageBlock carries the fields validation inspects; any other fields
// round-trip through Extra.
type ImageBlock struct {
	URL   string
	Alt   string
	Extra map[string]any
}

// SectionBlock keeps its accessory inspectable; text and the rest of the
// section live in Extra.
type SectionBlock struct {
	Accessory map[string]any
	Extra     map[string]any
}

// ContextBlock keeps its elements inspectable for image filtering.
type ContextBlock struct {
	Elements []map[string]any
	Extra    map[string]any
}

// ParseBlocks decodes a serialized block array. Empty input yields nil.
func ParseBlocks(raw []byte) ([]Block, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}
	var objs []map[string]any
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, len(objs))
	for _, obj := range objs {
		blocks = append(blocks, classify(obj))
	}
	return blocks, nil
}

func classify(obj map[string]any) Block {
	switch obj["type"] {
	case "image":
		ib := &ImageBlock{Extra: map[string]any{}}
		for k, v := range obj {
			switch k {
			case "type":
			case "image_url":
				ib.URL, _ = v.(string)
			case "alt_text":
				ib.Alt, _ = v.(string)
			default:
				ib.Extra[k] = v
			}
		}
		return Block{Kind: KindImage, Image: ib}
	case "section":
		sb := &SectionBlock{Extra: map[string]any{}}
		for k, v := range obj {
			switch k {
			case "type":
			case "accessory":
				sb.Accessory, _ = v.(map[string]any)
			default:
				sb.Extra[k] = v
			}
		}
		return Block{Kind: KindSection, Section: sb}
	case "context":
		cb := &ContextBlock{Extra: map[string]any{}}
		for k, v := range obj {
			switch k {
			case "type":
			case "elements":
				if arr, ok := v.([]any); ok {
					for _, el := range arr {
						if m, ok := el.(map[string]any); ok {
							cb.Elements = append(cb.Elements, m)
						}
					}
				}
			default:
				cb.Extra[k] = v
			}
		}
		return Block{Kind: KindContext, Context: cb}
	default:
		return Block{Kind: KindOpaque, Opaque: obj}
	}
}

func (b Block) toMap() map[string]any {
	switch b.Kind {
	case KindImage:
		m := map[string]any{"type": "image", "image_url": b.Image.URL}
		if b.Image.Alt != "" {
			m["alt_text"] = b.Image.Alt
		}
		for k, v := range b.Image.Extra {
			m[k] = v
		}
		return m
	case KindSection:
		m := map[string]any{"type": "section"}
		if b.Section.Accessory != nil {
			m["accessory"] = b.Section.Accessory
		}
		for k, v := range b.Section.Extra {
			m[k] = v
		}
		return m
	case KindContext:
		m := map[string]any{"type": "context"}
		els := make([]any, 0, len(b.Context.Elements))
		for _, el := range b.Context.Elements {
			els = append(els, el)
		}
		m["elements"] = els
		for k, v := range b.Context.Extra {
			m[k] = v
		}
		return m
	default:
		return b.Opaque
	}
}

// MarshalBlocks serializes blocks back to the wire form the messaging
// platform expects.
func MarshalBlocks(blocks []Block) (json.RawMessage, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	objs := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		objs = append(objs, b.toMap())
	}
	return json.Marshal(objs)
}

// NewImageBlock builds an image block for a rendered visualization.
func NewImageBlock(url, alt string) Block {
	if alt == "" {
		alt = "Visualization"
	}
	return Block{Kind: KindImage, Image: &ImageBlock{URL: url, Alt: alt, Extra: map[string]any{}}}
}

// EnsureImage appends an image block only when none is present, so a caller
// supplying its own image layout keeps it.
func EnsureImage(blocks []Block, imageURL, alt string) []Block {
	for _, b := range blocks {
		if b.Kind == KindImage {
			return blocks
		}
	}
	return append(blocks, NewImageBlock(imageURL, alt))
}

// ValidateBlocks drops image references the messaging platform would reject:
// image blocks with missing/blank/non-http(s) URLs, section accessories and
// context elements likewise. A context block that loses all elements is
// dropped whole. Without this, one bad URL rejects the entire payload.
func ValidateBlocks(blocks []Block, log *slog.Logger) []Block {
	out := make([]Block, 0, len(blocks))
	for i, b := range blocks {
		switch b.Kind {
		case KindImage:
			if !validImageURL(b.Image.URL) {
				log.Warn("dropping image block with invalid URL",
					slog.Int("index", i), slog.String("url", b.Image.URL))
				continue
			}
		case KindSection:
			if acc := b.Section.Accessory; acc != nil && acc["type"] == "image" {
				u, _ := acc["image_url"].(string)
				if !validImageURL(u) {
					log.Warn("dropping invalid section accessory image",
						slog.Int("index", i), slog.String("url", u))
					b.Section.Accessory = nil
				}
			}
		case KindContext:
			kept := b.Context.Elements[:0]
			for _, el := range b.Context.Elements {
				if el["type"] == "image" {
					u, _ := el["image_url"].(string)
					if !validImageURL(u) {
						log.Warn("dropping invalid context image element",
							slog.Int("index", i), slog.String("url", u))
						continue
					}
				}
				kept = append(kept, el)
			}
			b.Context.Elements = kept
			if len(kept) == 0 {
				log.Warn("dropping context block with no valid elements", slog.Int("index", i))
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func validImageURL(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
