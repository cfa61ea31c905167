package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

const (
	defaultBaseModel  = "/data1/pretrained-models/llama-7b-hf"
	defaultBackendURL = "http://127.0.0.1:8000/v1"
)

var (
	baseModel           string
	cacheDir            string
	contextSize         int
	flashAttn           bool
	temperature         float64
	topP                float64
	maxGenLen           int
	maxInputTokens      int
	stripReasoning      bool
	useGenerationConfig bool
	backendKind         string
	backendURL          string
	backendModel        string
	apiKey              string
	requestTimeout      time.Duration
	tokenizerJSON       string
	tokenizerConfig     string
	configFile          string
	envFile             string
	logLevel            string
	logFormat           string
	debug               bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "base-model",
			Aliases:     []string{"base_model", "m"},
			Usage:       "local model directory or hub repo id (org/name[@revision])",
			Value:       defaultBaseModel,
			Destination: &baseModel,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Aliases:     []string{"cache_dir"},
			Usage:       "download cache for hub repositories",
			Value:       "./cache",
			Destination: &cacheDir,
		},
		&cli.IntFlag{
			Name:        "context-size",
			Aliases:     []string{"context_size", "ctx"},
			Usage:       "context size during fine-tuning; enables linear RoPE scaling when larger than the model's",
			Value:       -1,
			Destination: &contextSize,
		},
		&cli.BoolFlag{
			Name:        "flash-attn",
			Aliases:     []string{"flash_attn"},
			Usage:       "request flash attention from the serving backend",
			Value:       true,
			Destination: &flashAttn,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "override path to tokenizer.json",
			Destination: &tokenizerJSON,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature",
			Value:       0.6,
			Destination: &temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "nucleus sampling threshold",
			Value:       0.9,
			Destination: &topP,
		},
		&cli.IntFlag{
			Name:        "max-gen-len",
			Aliases:     []string{"max_gen_len"},
			Usage:       "maximum number of generated tokens",
			Value:       512,
			Destination: &maxGenLen,
		},
		&cli.IntFlag{
			Name:        "max-input-tokens",
			Aliases:     []string{"max_input_tokens"},
			Usage:       "reject prompts longer than this many tokens",
			Value:       32768,
			Destination: &maxInputTokens,
		},
		&cli.BoolFlag{
			Name:        "strip-reasoning",
			Usage:       "drop <think> blocks from answers of reasoning models",
			Destination: &stripReasoning,
		},
		&cli.BoolFlag{
			Name:        "use-generation-config",
			Usage:       "take unset sampling options from the model's generation_config.json instead of the built-in defaults",
			Destination: &useGenerationConfig,
		},
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "generation API (completions, chat)",
			Value:       "completions",
			Destination: &backendKind,
		},
		&cli.StringFlag{
			Name:        "backend-url",
			Usage:       "base URL of the OpenAI-compatible model server",
			Value:       defaultBackendURL,
			Sources:     cli.EnvVars("LONGASK_BACKEND_URL"),
			Destination: &backendURL,
		},
		&cli.StringFlag{
			Name:        "backend-model",
			Usage:       "model name sent to the backend (default: first served model)",
			Destination: &backendModel,
		},
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "bearer token for the backend",
			Sources:     cli.EnvVars("LONGASK_API_KEY", "OPENAI_API_KEY"),
			Destination: &apiKey,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "timeout for one generation request (0 = none)",
			Value:       10 * time.Minute,
			Destination: &requestTimeout,
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default ~/.config/longask/config.yaml)",
			Sources:     cli.EnvVars("LONGASK_CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "dotenv file loaded before flags are read",
			Value:       ".env",
			Destination: &envFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func allModelFlags() []cli.Flag {
	var out []cli.Flag
	out = append(out, modelFlags()...)
	out = append(out, samplingFlags()...)
	out = append(out, backendFlags()...)
	return out
}
