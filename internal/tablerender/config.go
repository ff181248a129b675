package tablerender

import "encoding/json"

// ColumnConfig controls per-column presentation. Field values mirror what the
// template editor stores.
type ColumnConfig struct {
	Alignment             string `json:"alignment,omitempty"` // "Left" | "Center" | "Right"
	Format                string `json:"format,omitempty"`    // "Text" | "Number" | "Currency" | "Percent"
	DecimalPlaces         *int   `json:"decimalPlaces,omitempty"`
	Currency              string `json:"currency,omitempty"`              // "$ (USD)", "€ (EUR)", "£ (GBP)"
	ConditionalFormatting string `json:"conditionalFormatting,omitempty"` // "Yes" | "No"
	ColorScale            string `json:"colorScale,omitempty"`
}

const (
	ScaleGreenRed   = "Low green, high red"
	ScaleRedGreen   = "Low red, high green"
	ScaleGreenWhite = "Low green, high white"
	ScaleWhiteGreen = "Low white, high green"
)

// VizConfig is the stored visualization configuration of a template.
type VizConfig struct {
	Type        string                  `json:"type,omitempty"`
	QueryMode   string                  `json:"queryMode,omitempty"`
	TableConfig map[string]ColumnConfig `json:"tableConfig,omitempty"`
}

// ParseVizConfig decodes the stored JSON; empty or malformed input yields a
// zero config (every column falls back to defaults).
func ParseVizConfig(raw string) VizConfig {
	var cfg VizConfig
	if raw == "" {
		return cfg
	}
	_ = json.Unmarshal([]byte(raw), &cfg)
	return cfg
}

func (c ColumnConfig) decimals() int {
	if c.DecimalPlaces == nil {
		return 2
	}
	return *c.DecimalPlaces
}

func columnConfig(name string, cfg VizConfig) ColumnConfig {
	if c, ok := cfg.TableConfig[name]; ok {
		return c
	}
	return ColumnConfig{
		Alignment:             "Center",
		Format:                "Text",
		Currency:              "$ (USD)",
		ConditionalFormatting: "No",
		ColorScale:            ScaleGreenRed,
	}
}
