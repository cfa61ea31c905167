package inference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/longask/internal/backend"
	"github.com/samcharles93/longask/internal/hub"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/modelcfg"
	"github.com/samcharles93/longask/internal/tokenizer"
)

const (
	tokenizerFile       = "tokenizer.json"
	tokenizerConfigFile = "tokenizer_config.json"
)

// Loader resolves the pretrained repository and binds the backend.
type Loader struct {
	BaseModel           string
	ContextSize         int
	FlashAttention      bool
	TokenizerJSONPath   string
	TokenizerConfigPath string
	Backend             backend.Config
	// ProbeBackend lists the served models at load time; a failure is only
	// logged.
	ProbeBackend bool

	Resolver *hub.Resolver
	Logger   logger.Logger
}

type LoadResult struct {
	Repo               *hub.Repo
	Config             *modelcfg.Config
	GenerationDefaults modelcfg.GenerationDefaults
	// Tokenizer is nil when no tokenizer.json was found and token counting
	// goes to the backend.
	Tokenizer      *tokenizer.HFTokenizer
	Counter        tokenizer.Counter
	Generator      backend.Generator
	Backend        backend.Config
	ModelMaxLength int
	RopeScaled     bool
}

func (l Loader) Load(ctx context.Context) (*LoadResult, error) {
	if strings.TrimSpace(l.BaseModel) == "" {
		return nil, fmt.Errorf("base model is required")
	}
	log := l.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.ComponentKey, "loader")
	resolver := l.Resolver
	if resolver == nil {
		resolver = hub.NewResolver("", log)
	}

	repo, err := resolver.Resolve(ctx, l.BaseModel)
	if err != nil {
		return nil, err
	}

	cfg, err := modelcfg.Load(repo.Dir)
	if err != nil {
		return nil, err
	}
	cfg.FlashAttention = l.FlashAttention
	scaled := cfg.ApplyContextSize(l.ContextSize)
	if scaled {
		log.Info("rope scaling applied",
			"orig_ctx", cfg.MaxPositionEmbeddings,
			"context_size", l.ContextSize,
			"factor", cfg.RopeScaling.Factor,
		)
	}

	gen, err := modelcfg.LoadGenerationDefaults(repo.Dir)
	if err != nil {
		return nil, err
	}

	beCfg := l.Backend
	if beCfg.Kind, err = backend.Normalize(beCfg.Kind); err != nil {
		return nil, err
	}
	if l.ProbeBackend {
		beCfg.Model = probeModel(ctx, beCfg, log)
	}
	if beCfg.Model == "" && beCfg.Kind == backend.Chat {
		beCfg.Model = repo.ID
	}

	res := &LoadResult{
		Repo:               repo,
		Config:             cfg,
		GenerationDefaults: gen,
		Backend:            beCfg,
		ModelMaxLength:     cfg.ModelMaxLength(l.ContextSize),
		RopeScaled:         scaled,
	}

	tok, err := l.loadTokenizer(repo.Dir)
	switch {
	case err == nil:
		res.Tokenizer = tok
		res.Counter = tok
		log.Info("tokenizer loaded", "mode", tok.Mode(), "vocab", tok.VocabSize(), "add_bos", tok.AddBOS())
	case errors.Is(err, fs.ErrNotExist) && l.TokenizerJSONPath == "":
		log.Warn("no tokenizer.json, counting tokens through the backend", "url", beCfg.BaseURL)
		res.Counter = tokenizer.NewRemoteCounter(beCfg.BaseURL, beCfg.Model, beCfg.APIKey)
	default:
		return nil, err
	}

	res.Generator, err = backend.New(beCfg)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l Loader) loadTokenizer(dir string) (*tokenizer.HFTokenizer, error) {
	tokJSON := l.TokenizerJSONPath
	if tokJSON == "" {
		tokJSON = filepath.Join(dir, tokenizerFile)
		if _, err := os.Stat(tokJSON); err != nil {
			return nil, err
		}
	}
	tokCfg := l.TokenizerConfigPath
	if tokCfg == "" {
		tokCfg = filepath.Join(dir, tokenizerConfigFile)
	}
	return tokenizer.LoadHF(tokJSON, tokCfg)
}

// probeModel checks the backend is reachable and fills in the served model
// name when none was configured.
func probeModel(ctx context.Context, cfg backend.Config, log logger.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ids, err := backend.Models(ctx, &http.Client{}, cfg.BaseURL, cfg.APIKey)
	if err != nil {
		log.Warn("backend not reachable yet", "url", cfg.BaseURL, "error", err)
		return cfg.Model
	}
	log.Info("backend reachable", "url", cfg.BaseURL, "models", ids)
	if cfg.Model != "" || len(ids) == 0 {
		return cfg.Model
	}
	return ids[0]
}

// NewResponder binds the loaded model to sampling options.
func (r *LoadResult) NewResponder(opts RequestOptions, maxInputTokens int, log logger.Logger) *Responder {
	return &Responder{
		Counter:        r.Counter,
		Generator:      r.Generator,
		Sampling:       ResolveSampling(opts, r.GenerationDefaults),
		MaxInputTokens: maxInputTokens,
		Logger:         log,
	}
}
