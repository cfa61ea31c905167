package modelcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// GenerationDefaults holds sampling defaults from generation_config.json.
// Nil fields were absent from the file.
type GenerationDefaults struct {
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	EOSTokenIDs       []int    `json:"eos_token_id,omitempty"`
}

type hfGenerationConfig struct {
	Temperature       *float64        `json:"temperature"`
	TopP              *float64        `json:"top_p"`
	TopK              *int            `json:"top_k"`
	MaxNewTokens      *int            `json:"max_new_tokens"`
	RepetitionPenalty *float64        `json:"repetition_penalty"`
	EOSTokenID        json.RawMessage `json:"eos_token_id"`
}

// LoadGenerationDefaults reads generation_config.json from dir. A missing
// file yields empty defaults.
func LoadGenerationDefaults(dir string) (GenerationDefaults, error) {
	raw, err := os.ReadFile(filepath.Join(dir, GenerationConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return GenerationDefaults{}, nil
	}
	if err != nil {
		return GenerationDefaults{}, fmt.Errorf("load generation config: %w", err)
	}
	return ParseGenerationDefaults(raw)
}

// ParseGenerationDefaults decodes generation_config.json. eos_token_id may be
// a single id or a list.
func ParseGenerationDefaults(raw []byte) (GenerationDefaults, error) {
	if len(raw) == 0 {
		return GenerationDefaults{}, nil
	}
	var cfg hfGenerationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GenerationDefaults{}, fmt.Errorf("parse generation config: %w", err)
	}
	out := GenerationDefaults{
		Temperature:       cfg.Temperature,
		TopP:              cfg.TopP,
		TopK:              cfg.TopK,
		MaxNewTokens:      cfg.MaxNewTokens,
		RepetitionPenalty: cfg.RepetitionPenalty,
	}
	if len(cfg.EOSTokenID) > 0 && string(cfg.EOSTokenID) != "null" {
		var one int
		if err := json.Unmarshal(cfg.EOSTokenID, &one); err == nil {
			out.EOSTokenIDs = []int{one}
		} else {
			var many []int
			if err := json.Unmarshal(cfg.EOSTokenID, &many); err != nil {
				return GenerationDefaults{}, fmt.Errorf("parse generation config eos_token_id: %w", err)
			}
			out.EOSTokenIDs = many
		}
	}
	return out, nil
}
