package tokenizer

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// Config is the subset of tokenizer_config.json that affects encoding.
// Pointer fields are nil when the key is absent.
type Config struct {
	AddBOS         *bool
	AddEOS         *bool
	BOSToken       string
	EOSToken       string
	UNKToken       string
	ModelMaxLength int
	TokenizerClass string
}

type hfTokenizerConfig struct {
	AddBOS         *bool           `json:"add_bos_token"`
	AddEOS         *bool           `json:"add_eos_token"`
	BOS            json.RawMessage `json:"bos_token"`
	EOS            json.RawMessage `json:"eos_token"`
	UNK            json.RawMessage `json:"unk_token"`
	ModelMaxLength *float64        `json:"model_max_length"`
	TokenizerClass string          `json:"tokenizer_class"`
}

// ParseConfig decodes tokenizer_config.json. Special tokens may be plain
// strings or AddedToken objects with a "content" field.
func ParseConfig(raw []byte) (Config, error) {
	if len(raw) == 0 {
		return Config{}, nil
	}
	var hc hfTokenizerConfig
	if err := json.Unmarshal(raw, &hc); err != nil {
		return Config{}, fmt.Errorf("parse tokenizer_config.json: %w", err)
	}
	cfg := Config{
		AddBOS:         hc.AddBOS,
		AddEOS:         hc.AddEOS,
		BOSToken:       tokenContent(hc.BOS),
		EOSToken:       tokenContent(hc.EOS),
		UNKToken:       tokenContent(hc.UNK),
		TokenizerClass: hc.TokenizerClass,
	}
	// Transformers writes 1e30 for "unbounded".
	if hc.ModelMaxLength != nil && *hc.ModelMaxLength > 0 && *hc.ModelMaxLength < math.MaxInt32 {
		cfg.ModelMaxLength = int(*hc.ModelMaxLength)
	}
	return cfg, nil
}

func tokenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Content
	}
	return ""
}
