package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/longask/internal/backend"
)

// wordCounter counts whitespace-separated words plus a BOS token.
type wordCounter struct{}

func (wordCounter) Count(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)) + 1, nil
}

type errCounter struct{}

func (errCounter) Count(context.Context, string) (int, error) {
	return 0, errors.New("tokenizer offline")
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []backend.Request
	output func(prompt string) string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, req backend.Request) (*backend.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &backend.Result{Text: g.output(req.Prompt), FinishReason: "stop"}, nil
}

func writeMaterial(t *testing.T, name, content string) *Material {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Material{Name: name, Path: path}
}

func newTestResponder(gen *fakeGenerator) *Responder {
	return &Responder{
		Counter:        wordCounter{},
		Generator:      gen,
		Sampling:       Sampling{Temperature: 0.6, TopP: 0.9, MaxGenLen: 512},
		MaxInputTokens: 32768,
	}
}

func TestRespondRejectsNonText(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{output: func(string) string { return "unused" }}
	r := newTestResponder(gen)

	tests := []struct {
		name     string
		material *Material
	}{
		{name: "nil", material: nil},
		{name: "pdf", material: writeMaterial(t, "paper.pdf", "content")},
		{name: "upper case", material: writeMaterial(t, "paper.TXT", "content")},
	}
	for _, tc := range tests {
		got, err := r.Respond(context.Background(), tc.material, "Summarize.")
		if err != nil {
			t.Fatalf("%s: Respond: %v", tc.name, err)
		}
		if got != "Only support txt file." {
			t.Fatalf("%s: Respond = %q", tc.name, got)
		}
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called %d times for rejected input", len(gen.calls))
	}
}

func TestRespondTooManyTokens(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{output: func(string) string { return "unused" }}
	r := newTestResponder(gen)

	material := writeMaterial(t, "long.txt", strings.Repeat("word ", 40000))
	got, err := r.Respond(context.Background(), material, "What happens?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	prompt := FormatPrompt(strings.Repeat("word ", 40000), "What happens?")
	n, _ := wordCounter{}.Count(context.Background(), prompt)
	want := "This demo supports tokens less than 32768, while the current is " +
		strconv.Itoa(n) + ". Please use material with less tokens."
	if got != want {
		t.Fatalf("Respond = %q, want %q", got, want)
	}
	if len(gen.calls) != 0 {
		t.Fatal("generator should not be called over the limit")
	}
}

func TestRespondAtLimitGenerates(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{output: func(string) string { return "ok" }}
	r := newTestResponder(gen)

	prompt := FormatPrompt("a b", "q")
	n, _ := wordCounter{}.Count(context.Background(), prompt)
	r.MaxInputTokens = n

	got, err := r.Respond(context.Background(), writeMaterial(t, "a.txt", "a b"), "q")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "ok" {
		t.Fatalf("a prompt of exactly the limit should be generated, got %q", got)
	}
}

func TestRespondStripsEchoedPrompt(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{output: func(prompt string) string {
		return prompt + "\n  The paper proposes shifted sparse attention.  "
	}}
	r := newTestResponder(gen)

	got, err := r.Respond(context.Background(), writeMaterial(t, "paper_1.txt", "LongLoRA paper body"), "What is the main contribution?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "The paper proposes shifted sparse attention." {
		t.Fatalf("Respond = %q", got)
	}

	if len(gen.calls) != 1 {
		t.Fatalf("generator calls = %d", len(gen.calls))
	}
	call := gen.calls[0]
	if call.MaxTokens != 512 || call.Temperature != 0.6 || call.TopP != 0.9 {
		t.Fatalf("request sampling = %+v", call)
	}
	if call.Prompt != FormatPrompt("LongLoRA paper body", "What is the main contribution?") {
		t.Fatalf("prompt = %q", call.Prompt)
	}
}

func TestRespondStripReasoning(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{output: func(string) string {
		return "<think>The reader wants a summary.</think>\n\nA summary."
	}}
	material := writeMaterial(t, "notes.txt", "body")

	r := newTestResponder(gen)
	got, err := r.Respond(context.Background(), material, "Summarize.")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.HasPrefix(got, "<think>") {
		t.Fatalf("reasoning must be kept by default, got %q", got)
	}

	r.StripReasoning = true
	got, err = r.Respond(context.Background(), material, "Summarize.")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "A summary." {
		t.Fatalf("Respond = %q", got)
	}
}

func TestRespondPropagatesErrors(t *testing.T) {
	t.Parallel()
	material := writeMaterial(t, "doc.txt", "text")

	gen := &fakeGenerator{err: errors.New("connection refused")}
	r := newTestResponder(gen)
	if _, err := r.Respond(context.Background(), material, "q"); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected generator error, got %v", err)
	}

	r = newTestResponder(&fakeGenerator{output: func(string) string { return "" }})
	r.Counter = errCounter{}
	if _, err := r.Respond(context.Background(), material, "q"); err == nil {
		t.Fatal("expected counter error")
	}

	missing := &Material{Name: "gone.txt", Path: filepath.Join(t.TempDir(), "gone.txt")}
	if _, err := newTestResponder(gen).Respond(context.Background(), missing, "q"); err == nil {
		t.Fatal("expected read error")
	}
}

func TestAnswerTextReportsTokens(t *testing.T) {
	t.Parallel()
	r := newTestResponder(&fakeGenerator{output: func(string) string { return "fine" }})
	ans, err := r.AnswerText(context.Background(), "inline.txt", "short", "q")
	if err != nil {
		t.Fatalf("AnswerText: %v", err)
	}
	if ans.Rejected || ans.Text != "fine" || ans.PromptTokens == 0 {
		t.Fatalf("answer = %+v", ans)
	}

	ans, err = r.AnswerText(context.Background(), "inline.md", "short", "q")
	if err != nil || !ans.Rejected || ans.Text != MsgOnlyTxt {
		t.Fatalf("answer = %+v, %v", ans, err)
	}
}
