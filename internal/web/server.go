// Package web serves the document Q&A form, its JSON API and the queue
// websocket.
package web

import (
	"context"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/samcharles93/longask/internal/flagging"
	"github.com/samcharles93/longask/internal/gallery"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/modelcfg"
	"github.com/samcharles93/longask/internal/queue"
	"github.com/samcharles93/longask/internal/webui"
)

const (
	Title = "LongLoRA and LongAlpaca for Long-context LLMs"

	DefaultMaxUploadBytes = 64 << 20
)

// Answerer is satisfied by *inference.Responder.
type Answerer interface {
	Answer(ctx context.Context, material *inference.Material, question string) (*inference.Answer, error)
}

// Info is the model summary served by /api/info and shown on the page.
type Info struct {
	Model          string                `json:"model"`
	BaseModel      string                `json:"base_model"`
	Architecture   string                `json:"architecture,omitempty"`
	ContextSize    int                   `json:"context_size"`
	RopeScaling    *modelcfg.RopeScaling `json:"rope_scaling,omitempty"`
	FlashAttention bool                  `json:"flash_attention"`
	Backend        string                `json:"backend"`
	BackendURL     string                `json:"backend_url"`
	Tokenizer      string                `json:"tokenizer"`
	Sampling       inference.Sampling    `json:"sampling"`
	MaxInputTokens int                   `json:"max_input_tokens"`
	Version        string                `json:"version"`
}

type Config struct {
	Answerer Answerer
	Queue    *queue.Queue
	Gallery  *gallery.Gallery
	Flagging *flagging.Logger
	Info     Info

	// UploadDir holds uploads while they are answered. Empty means the
	// system temp dir.
	UploadDir      string
	MaxUploadBytes int64

	// RateLimit is requests per second per client IP on prediction
	// routes. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int

	Logger logger.Logger
}

type Server struct {
	cfg     Config
	tmpl    *template.Template
	limiter *ipLimiter
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	tmpl, err := webui.Templates()
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:   cfg,
		tmpl:  tmpl,
		log:   log.With(logger.ComponentKey, "web"),
		clock: time.Now,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s, nil
}

// New returns an echo instance with the middleware stack and routes.
func (s *Server) New() *echo.Echo {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(s.requestID)
	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	limit := s.rateLimit

	e.GET("/", s.handleIndex)
	e.POST("/", s.handleSubmit, limit)
	e.GET("/examples/:index", s.handleExample, limit)
	e.GET("/static/*", s.handleStatic)

	e.POST("/api/predict", s.handlePredict, limit)
	e.GET("/api/info", s.handleInfo)
	e.GET("/api/examples", s.handleExamples)
	e.GET("/healthz", s.handleHealth)

	e.GET("/queue/join", s.handleQueueJoin, limit)
}

func (s *Server) handleStatic(c *echo.Context) error {
	h := http.StripPrefix("/static/", http.FileServer(webui.StaticFS()))
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}
