package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the longask configuration file
// (~/.config/longask/config.yaml). All fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	BaseModel       *string `yaml:"base_model"`
	CacheDir        *string `yaml:"cache_dir"`
	ContextSize     *int    `yaml:"context_size"`
	FlashAttn       *bool   `yaml:"flash_attn"`
	TokenizerJSON   *string `yaml:"tokenizer_json"`
	TokenizerConfig *string `yaml:"tokenizer_config"`

	// Sampling defaults
	Temperature    *float64 `yaml:"temperature"`
	TopP           *float64 `yaml:"top_p"`
	MaxGenLen      *int     `yaml:"max_gen_len"`
	MaxInputTokens *int     `yaml:"max_input_tokens"`
	StripReasoning *bool    `yaml:"strip_reasoning"`

	UseGenerationConfig *bool `yaml:"use_generation_config"`

	// Backend
	Backend        *string        `yaml:"backend"`
	BackendURL     *string        `yaml:"backend_url"`
	BackendModel   *string        `yaml:"backend_model"`
	APIKey         *string        `yaml:"api_key"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`

	// Output
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	Server ServerConfig `yaml:"server"`
}

type ServerConfig struct {
	Address      *string        `yaml:"address"`
	ReadTimeout  *time.Duration `yaml:"read_timeout"`
	Concurrency  *int           `yaml:"concurrency"`
	MaxQueue     *int           `yaml:"max_queue"`
	MaterialsDir *string        `yaml:"materials_dir"`
	ExamplesFile *string        `yaml:"examples_file"`
	Flagging     *string        `yaml:"flagging"`
	FlagDir      *string        `yaml:"flag_dir"`
	RateLimit    *float64       `yaml:"rate_limit"`
	RateBurst    *int           `yaml:"rate_burst"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "longask", "config.yaml")
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file is an
// error.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func setUnset[T any](c *cli.Command, name string, dst *T, v *T) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

// applyConfig applies config file defaults to the shared flag variables
// when the corresponding CLI flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	setUnset(c, "base-model", &baseModel, cfg.BaseModel)
	setUnset(c, "cache-dir", &cacheDir, cfg.CacheDir)
	setUnset(c, "context-size", &contextSize, cfg.ContextSize)
	setUnset(c, "flash-attn", &flashAttn, cfg.FlashAttn)
	setUnset(c, "tokenizer-json", &tokenizerJSON, cfg.TokenizerJSON)
	setUnset(c, "tokenizer-config", &tokenizerConfig, cfg.TokenizerConfig)
	setUnset(c, "temperature", &temperature, cfg.Temperature)
	setUnset(c, "top-p", &topP, cfg.TopP)
	setUnset(c, "max-gen-len", &maxGenLen, cfg.MaxGenLen)
	setUnset(c, "max-input-tokens", &maxInputTokens, cfg.MaxInputTokens)
	setUnset(c, "strip-reasoning", &stripReasoning, cfg.StripReasoning)
	setUnset(c, "use-generation-config", &useGenerationConfig, cfg.UseGenerationConfig)
	setUnset(c, "backend", &backendKind, cfg.Backend)
	setUnset(c, "backend-url", &backendURL, cfg.BackendURL)
	setUnset(c, "backend-model", &backendModel, cfg.BackendModel)
	setUnset(c, "api-key", &apiKey, cfg.APIKey)
	setUnset(c, "request-timeout", &requestTimeout, cfg.RequestTimeout)
	setUnset(c, "log-level", &logLevel, cfg.LogLevel)
	setUnset(c, "log-format", &logFormat, cfg.LogFormat)
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg ServerConfig, opts *serveOptions) {
	setUnset(c, "addr", &opts.addr, cfg.Address)
	setUnset(c, "read-timeout", &opts.readTimeout, cfg.ReadTimeout)
	setUnset(c, "concurrency", &opts.concurrency, cfg.Concurrency)
	setUnset(c, "max-queue", &opts.maxQueue, cfg.MaxQueue)
	setUnset(c, "materials-dir", &opts.materialsDir, cfg.MaterialsDir)
	setUnset(c, "examples-file", &opts.examplesFile, cfg.ExamplesFile)
	setUnset(c, "flagging", &opts.flagging, cfg.Flagging)
	setUnset(c, "flag-dir", &opts.flagDir, cfg.FlagDir)
	setUnset(c, "rate-limit", &opts.rateLimit, cfg.RateLimit)
	setUnset(c, "rate-burst", &opts.rateBurst, cfg.RateBurst)
}

// envFileFromArgs finds --env-file in args before flag parsing so the file
// can feed flag env sources. It falls back to ".env".
func envFileFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ".env"
		case a == "--env-file" || a == "-env-file":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > len("--env-file=") && a[:len("--env-file=")] == "--env-file=":
			return a[len("--env-file="):]
		}
	}
	return ".env"
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
