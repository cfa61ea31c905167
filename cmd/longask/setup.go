package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/backend"
	"github.com/samcharles93/longask/internal/hub"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
)

// prepare loads the config file into unset flags and installs the logger
// in ctx. Every command action starts with it.
func prepare(ctx context.Context, cmd *cli.Command) (context.Context, Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return ctx, Config{}, cli.Exit(err.Error(), 1)
	}
	applyConfig(cmd, cfg)

	log := logger.Setup(os.Stderr, logFormat, logLevel, debug)
	return logger.WithContext(ctx, log), cfg, nil
}

// requestOptions pins the sampling flags, defaults included. With
// --use-generation-config only values chosen on the command line or in the
// config file are pinned and the rest come from generation_config.json.
func requestOptions(cmd *cli.Command, cfg Config) inference.RequestOptions {
	opts := inference.RequestOptions{UseGenerationConfig: useGenerationConfig}
	if !useGenerationConfig || cmd.IsSet("temperature") || cfg.Temperature != nil {
		t := temperature
		opts.Temperature = &t
	}
	if !useGenerationConfig || cmd.IsSet("top-p") || cfg.TopP != nil {
		p := topP
		opts.TopP = &p
	}
	if !useGenerationConfig || cmd.IsSet("max-gen-len") || cfg.MaxGenLen != nil {
		n := maxGenLen
		opts.MaxGenLen = &n
	}
	return opts
}

func newLoader(log logger.Logger, probe bool) inference.Loader {
	return inference.Loader{
		BaseModel:           baseModel,
		ContextSize:         contextSize,
		FlashAttention:      flashAttn,
		TokenizerJSONPath:   tokenizerJSON,
		TokenizerConfigPath: tokenizerConfig,
		Backend: backend.Config{
			Kind:    backendKind,
			BaseURL: backendURL,
			Model:   backendModel,
			APIKey:  apiKey,
			Timeout: requestTimeout,
		},
		ProbeBackend: probe,
		Resolver:     hub.NewResolver(cacheDir, log),
		Logger:       log,
	}
}

// loadResponder loads the model and binds the sampling options.
func loadResponder(ctx context.Context, cmd *cli.Command, cfg Config, probe bool) (*inference.LoadResult, *inference.Responder, error) {
	log := logger.FromContext(ctx)
	res, err := newLoader(log, probe).Load(ctx)
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("load model: %v", err), 1)
	}
	r := res.NewResponder(requestOptions(cmd, cfg), maxInputTokens, log)
	r.StripReasoning = stripReasoning
	log.Info("model ready",
		"base_model", baseModel,
		"max_length", res.ModelMaxLength,
		"rope_scaled", res.RopeScaled,
		"flash_attn", flashAttn,
		"backend", res.Backend.Kind,
		"temperature", r.Sampling.Temperature,
		"top_p", r.Sampling.TopP,
		"max_gen_len", r.Sampling.MaxGenLen,
	)
	return res, r, nil
}

func tokenizerSummary(res *inference.LoadResult) string {
	if res.Tokenizer == nil {
		return "remote " + res.Backend.BaseURL + "/tokenize"
	}
	return fmt.Sprintf("tokenizer.json (%s, vocab %d)", res.Tokenizer.Mode(), res.Tokenizer.VocabSize())
}
