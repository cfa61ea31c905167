package inference

import "github.com/samcharles93/longask/internal/modelcfg"

const (
	DefaultTemperature    = 0.6
	DefaultTopP           = 0.9
	DefaultMaxGenLen      = 512
	DefaultMaxInputTokens = 32768
)

// RequestOptions carries explicitly chosen sampling settings. Nil fields
// fall back to the built-in defaults, or to generation_config.json first
// when UseGenerationConfig is set.
type RequestOptions struct {
	Temperature *float64
	TopP        *float64
	MaxGenLen   *int

	UseGenerationConfig bool
}

// Sampling is the resolved per-request generation settings.
type Sampling struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxGenLen   int     `json:"max_gen_len"`
}

func ResolveSampling(opts RequestOptions, defaults modelcfg.GenerationDefaults) Sampling {
	s := Sampling{
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxGenLen:   DefaultMaxGenLen,
	}

	if opts.UseGenerationConfig {
		if defaults.Temperature != nil && *defaults.Temperature >= 0 {
			s.Temperature = *defaults.Temperature
		}
		if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
			s.TopP = *defaults.TopP
		}
		if defaults.MaxNewTokens != nil && *defaults.MaxNewTokens > 0 {
			s.MaxGenLen = *defaults.MaxNewTokens
		}
	}

	if opts.Temperature != nil {
		s.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		s.TopP = *opts.TopP
	}
	if opts.MaxGenLen != nil {
		s.MaxGenLen = *opts.MaxGenLen
	}
	return s
}
