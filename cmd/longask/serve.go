package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/longask/internal/flagging"
	"github.com/samcharles93/longask/internal/gallery"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/queue"
	"github.com/samcharles93/longask/internal/version"
	"github.com/samcharles93/longask/internal/web"
)

type serveOptions struct {
	addr         string
	readTimeout  time.Duration
	concurrency  int
	maxQueue     int
	materialsDir string
	examplesFile string
	flagging     string
	flagDir      string
	rateLimit    float64
	rateBurst    int
}

func serveFlags(opts *serveOptions, local bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:7860",
			Local:       local,
			Destination: &opts.addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Local:       local,
			Destination: &opts.readTimeout,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "number of requests answered at the same time",
			Value:       1,
			Local:       local,
			Destination: &opts.concurrency,
		},
		&cli.IntFlag{
			Name:        "max-queue",
			Usage:       "maximum number of waiting requests (0 = unbounded)",
			Value:       64,
			Local:       local,
			Destination: &opts.maxQueue,
		},
		&cli.StringFlag{
			Name:        "materials-dir",
			Usage:       "directory holding the example materials",
			Value:       "./materials",
			Local:       local,
			Destination: &opts.materialsDir,
		},
		&cli.StringFlag{
			Name:        "examples-file",
			Usage:       "YAML manifest replacing the built-in examples",
			Local:       local,
			Destination: &opts.examplesFile,
		},
		&cli.StringFlag{
			Name:        "flagging",
			Usage:       "record every answer to the flag log (auto, never)",
			Value:       flagging.ModeAuto,
			Local:       local,
			Destination: &opts.flagging,
		},
		&cli.StringFlag{
			Name:        "flag-dir",
			Usage:       "directory of the flag log",
			Value:       "flagged",
			Local:       local,
			Destination: &opts.flagDir,
		},
		&cli.Float64Flag{
			Name:        "rate-limit",
			Usage:       "prediction requests per second per client (0 = unlimited)",
			Local:       local,
			Destination: &opts.rateLimit,
		},
		&cli.IntFlag{
			Name:        "rate-burst",
			Usage:       "burst size of the per-client rate limit",
			Value:       5,
			Local:       local,
			Destination: &opts.rateBurst,
		},
	}
}

func serveCmd() *cli.Command {
	opts := &serveOptions{}
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the document Q&A web demo",
		Flags: serveFlags(opts, false),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd, opts)
		},
	}
}

func runServe(ctx context.Context, cmd *cli.Command, opts *serveOptions) error {
	ctx, cfg, err := prepare(ctx, cmd)
	if err != nil {
		return err
	}
	applyServeConfig(cmd, cfg.Server, opts)
	log := logger.FromContext(ctx)

	mode, err := flagging.ParseMode(opts.flagging)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	g, err := gallery.Load(opts.materialsDir, opts.examplesFile)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if missing := g.Missing(); len(missing) > 0 {
		log.Warn("example materials not found", "dir", opts.materialsDir, "missing", len(missing), "available", len(g.Available()))
		for _, m := range missing {
			log.Debug("missing example", "path", m)
		}
	}

	res, responder, err := loadResponder(ctx, cmd, cfg, true)
	if err != nil {
		return err
	}

	q := queue.New(opts.concurrency, opts.maxQueue, log)
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := q.Close(shutdown); err != nil {
			log.Warn("queue did not drain", "error", err)
		}
	}()

	model := res.Backend.Model
	if model == "" {
		model = res.Repo.ID
	}
	srv, err := web.NewServer(web.Config{
		Answerer: responder,
		Queue:    q,
		Gallery:  g,
		Flagging: flagging.New(opts.flagDir, mode),
		Info: web.Info{
			Model:          model,
			BaseModel:      baseModel,
			Architecture:   res.Config.Architecture(),
			ContextSize:    res.ModelMaxLength,
			RopeScaling:    res.Config.RopeScaling,
			FlashAttention: res.Config.FlashAttention,
			Backend:        res.Backend.Kind,
			BackendURL:     res.Backend.BaseURL,
			Tokenizer:      tokenizerSummary(res),
			Sampling:       responder.Sampling,
			MaxInputTokens: maxInputTokens,
			Version:        version.String(),
		},
		RateLimit: rate.Limit(opts.rateLimit),
		RateBurst: opts.rateBurst,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("build web server: %w", err)
	}

	e := srv.New()
	log.Info("starting server", "address", opts.addr, "workers", opts.concurrency, "flagging", mode)
	sc := echo.StartConfig{
		Address: opts.addr,
		BeforeServeFunc: func(s *http.Server) error {
			s.ReadHeaderTimeout = opts.readTimeout
			return nil
		},
	}
	return sc.Start(ctx, e)
}
