package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/longask/internal/backend"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/tokenizer"
)

// MsgOnlyTxt is returned for a missing upload or a non-.txt file.
const MsgOnlyTxt = "Only support txt file."

// TooLongMessage is returned when the prompt exceeds the token limit.
func TooLongMessage(limit, count int) string {
	return fmt.Sprintf("This demo supports tokens less than %d, while the current is %d. Please use material with less tokens.", limit, count)
}

// Responder turns (material, question) into an answer. The two user-facing
// rejections come back as ordinary answers; everything else is an error.
type Responder struct {
	Counter        tokenizer.Counter
	Generator      backend.Generator
	Sampling       Sampling
	MaxInputTokens int
	// StripReasoning drops <think> blocks from the answer.
	StripReasoning bool
	Logger         logger.Logger
}

// Answer is a response with the bookkeeping the callers log and display.
type Answer struct {
	Text         string
	PromptTokens int
	Rejected     bool
	Duration     time.Duration
}

// Respond answers question about material.
func (r *Responder) Respond(ctx context.Context, material *Material, question string) (string, error) {
	ans, err := r.Answer(ctx, material, question)
	if err != nil {
		return "", err
	}
	return ans.Text, nil
}

func (r *Responder) Answer(ctx context.Context, material *Material, question string) (*Answer, error) {
	start := time.Now()
	if material == nil || !IsText(material.Name) {
		return &Answer{Text: MsgOnlyTxt, Rejected: true, Duration: time.Since(start)}, nil
	}

	text, err := ReadMaterial(material.Path)
	if err != nil {
		return nil, err
	}
	return r.answerText(ctx, start, material.Name, text, question)
}

// AnswerText is Answer for material already in memory.
func (r *Responder) AnswerText(ctx context.Context, name, text, question string) (*Answer, error) {
	start := time.Now()
	if !IsText(name) {
		return &Answer{Text: MsgOnlyTxt, Rejected: true, Duration: time.Since(start)}, nil
	}
	return r.answerText(ctx, start, name, text, question)
}

func (r *Responder) answerText(ctx context.Context, start time.Time, name, text, question string) (*Answer, error) {
	log := r.log()
	prompt := FormatPrompt(text, question)

	count, err := r.Counter.Count(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("count prompt tokens: %w", err)
	}
	limit := r.MaxInputTokens
	if limit <= 0 {
		limit = DefaultMaxInputTokens
	}
	if count > limit {
		log.Warn("prompt over token limit", "material", name, "tokens", count, "limit", limit)
		return &Answer{Text: TooLongMessage(limit, count), PromptTokens: count, Rejected: true, Duration: time.Since(start)}, nil
	}

	log.Debug("generating", "material", name, "tokens", count, "max_gen_len", r.Sampling.MaxGenLen)
	res, err := r.Generator.Generate(ctx, backend.Request{
		Prompt:      prompt,
		MaxTokens:   r.Sampling.MaxGenLen,
		Temperature: r.Sampling.Temperature,
		TopP:        r.Sampling.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	out := ExtractAnswer(res.Text, prompt)
	if r.StripReasoning {
		var thought string
		out, thought = SplitReasoning(out)
		out = strings.TrimSpace(out)
		if thought != "" {
			log.Debug("reasoning", "text", thought)
		}
	}
	elapsed := time.Since(start)
	log.Info("answered",
		"material", name,
		"prompt_tokens", count,
		"completion_tokens", res.CompletionTokens,
		"finish", res.FinishReason,
		"took", elapsed,
	)
	log.Debug("out", "text", out)
	return &Answer{Text: out, PromptTokens: count, Duration: elapsed}, nil
}

func (r *Responder) log() logger.Logger {
	if r.Logger != nil {
		return r.Logger.With(logger.ComponentKey, "responder")
	}
	return logger.Discard()
}
