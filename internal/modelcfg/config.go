// Package modelcfg reads Hugging Face model configuration files and applies
// linear RoPE scaling for contexts longer than the pretrained window.
package modelcfg

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	ConfigFile           = "config.json"
	GenerationConfigFile = "generation_config.json"

	flashAttentionImpl = "flash_attention_2"
)

// Config is the subset of config.json longask cares about. The raw document is
// kept so MarshalScaled can round-trip keys it does not model.
type Config struct {
	ModelType             string
	Architectures         []string
	MaxPositionEmbeddings int
	VocabSize             int
	HiddenSize            int
	NumHiddenLayers       int
	NumAttentionHeads     int
	RopeTheta             float64
	RopeScaling           *RopeScaling

	// FlashAttention is recorded in the exported config as
	// _attn_implementation so a serving backend can pick it up.
	FlashAttention bool

	raw    []byte
	nested bool
}

// RopeScaling mirrors the rope_scaling object. Type is normalized from
// either "type" or "rope_type".
type RopeScaling struct {
	Type                          string  `json:"type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings,omitempty"`
}

type hfConfig struct {
	ModelType         string          `json:"model_type"`
	Architectures     []string        `json:"architectures"`
	MaxPosition       int             `json:"max_position_embeddings"`
	VocabSize         int             `json:"vocab_size"`
	HiddenSize        int             `json:"hidden_size"`
	NumHiddenLayers   int             `json:"num_hidden_layers"`
	NumAttentionHeads int             `json:"num_attention_heads"`
	RopeTheta         float64         `json:"rope_theta"`
	RopeScaling       *hfRopeScaling  `json:"rope_scaling"`
	RopeParameters    *hfRopeScaling  `json:"rope_parameters"`
	TextConfig        json.RawMessage `json:"text_config"`
}

type hfRopeScaling struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	RopeTheta                     float64 `json:"rope_theta"`
}

// Load reads config.json from dir.
func Load(dir string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("load model config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a config.json document. Multimodal configs that keep the
// language model under text_config are read from there when the top level
// lacks the fields.
func Parse(raw []byte) (*Config, error) {
	var top hfConfig
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}

	src := top
	nested := false
	if top.MaxPosition == 0 && len(top.TextConfig) > 0 && string(top.TextConfig) != "null" {
		var text hfConfig
		if err := json.Unmarshal(top.TextConfig, &text); err != nil {
			return nil, fmt.Errorf("parse model config text_config: %w", err)
		}
		if text.MaxPosition > 0 {
			nested = true
			src = text
			if src.ModelType == "" {
				src.ModelType = top.ModelType
			}
			if len(src.Architectures) == 0 {
				src.Architectures = top.Architectures
			}
		}
	}

	cfg := &Config{
		ModelType:             src.ModelType,
		Architectures:         src.Architectures,
		MaxPositionEmbeddings: src.MaxPosition,
		VocabSize:             src.VocabSize,
		HiddenSize:            src.HiddenSize,
		NumHiddenLayers:       src.NumHiddenLayers,
		NumAttentionHeads:     src.NumAttentionHeads,
		RopeTheta:             src.RopeTheta,
		raw:                   raw,
		nested:                nested,
	}

	rs := src.RopeScaling
	if rs == nil {
		rs = src.RopeParameters
	}
	if rs != nil {
		cfg.RopeScaling = normalizeRope(rs, cfg.MaxPositionEmbeddings)
		if cfg.RopeTheta == 0 && rs.RopeTheta > 0 {
			cfg.RopeTheta = rs.RopeTheta
		}
	}
	return cfg, nil
}

func normalizeRope(rs *hfRopeScaling, maxPosition int) *RopeScaling {
	typ := strings.ToLower(strings.TrimSpace(rs.RopeType))
	if typ == "" {
		typ = strings.ToLower(strings.TrimSpace(rs.Type))
	}
	if typ == "" || typ == "default" {
		if rs.Factor <= 0 {
			return nil
		}
		typ = "linear"
	}
	out := &RopeScaling{
		Type:                          typ,
		Factor:                        rs.Factor,
		OriginalMaxPositionEmbeddings: rs.OriginalMaxPositionEmbeddings,
	}
	if out.Factor <= 0 {
		out.Factor = 1
	}
	if out.OriginalMaxPositionEmbeddings <= 0 && typ != "linear" {
		out.OriginalMaxPositionEmbeddings = maxPosition
	}
	return out
}

// ScalingFactor returns ceil(contextSize/orig) when contextSize exceeds the
// pretrained window orig, and 0 otherwise.
func ScalingFactor(contextSize, orig int) float64 {
	if orig <= 0 || contextSize <= orig {
		return 0
	}
	return math.Ceil(float64(contextSize) / float64(orig))
}

// ApplyContextSize replaces rope_scaling with a linear scaling that stretches
// max_position_embeddings to cover contextSize. It reports whether the
// config changed. A contextSize at or below the pretrained window (including
// the -1 default) leaves the config untouched.
func (c *Config) ApplyContextSize(contextSize int) bool {
	factor := ScalingFactor(contextSize, c.MaxPositionEmbeddings)
	if factor == 0 {
		return false
	}
	c.RopeScaling = &RopeScaling{Type: "linear", Factor: factor}
	return true
}

// ModelMaxLength is the tokenizer's model_max_length for the requested
// context size.
func (c *Config) ModelMaxLength(contextSize int) int {
	if contextSize > c.MaxPositionEmbeddings {
		return contextSize
	}
	return c.MaxPositionEmbeddings
}

// EffectiveContext is the number of positions covered after scaling.
func (c *Config) EffectiveContext() int {
	if c.RopeScaling == nil || c.RopeScaling.Type != "linear" {
		return c.MaxPositionEmbeddings
	}
	return int(float64(c.MaxPositionEmbeddings) * c.RopeScaling.Factor)
}

// Architecture returns the first listed architecture or the model type.
func (c *Config) Architecture() string {
	if len(c.Architectures) > 0 {
		return c.Architectures[0]
	}
	return c.ModelType
}

// MarshalScaled returns the original config.json with rope_scaling (and the
// attention implementation) patched in. Unknown keys are preserved.
func (c *Config) MarshalScaled() ([]byte, error) {
	if len(c.raw) == 0 {
		return nil, errors.New("model config has no source document")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(c.raw, &doc); err != nil {
		return nil, fmt.Errorf("decode model config: %w", err)
	}

	if c.nested {
		var text map[string]json.RawMessage
		if err := json.Unmarshal(doc["text_config"], &text); err != nil {
			return nil, fmt.Errorf("decode text_config: %w", err)
		}
		if err := c.patch(text); err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(text)
		if err != nil {
			return nil, err
		}
		doc["text_config"] = encoded
	}
	if err := c.patch(doc); err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (c *Config) patch(doc map[string]json.RawMessage) error {
	if c.RopeScaling != nil {
		rs, err := json.Marshal(c.RopeScaling)
		if err != nil {
			return fmt.Errorf("encode rope_scaling: %w", err)
		}
		doc["rope_scaling"] = rs
		delete(doc, "rope_parameters")
	}
	if c.FlashAttention {
		doc["_attn_implementation"] = json.RawMessage(`"` + flashAttentionImpl + `"`)
	}
	return nil
}
