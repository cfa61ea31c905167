package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/samcharles93/longask/internal/inference"
)

type recordingAnswerer struct {
	calls []string
}

func (r *recordingAnswerer) Answer(_ context.Context, m *inference.Material, q string) (*inference.Answer, error) {
	name := "<nil>"
	if m != nil {
		name = m.Name
	}
	r.calls = append(r.calls, name+"|"+q)
	if m == nil || !inference.IsText(m.Name) {
		return &inference.Answer{Text: inference.MsgOnlyTxt, Rejected: true}, nil
	}
	return &inference.Answer{Text: "answer to " + q}, nil
}

func scriptedLines(lines ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		l := lines[0]
		lines = lines[1:]
		return l, nil
	}
}

func TestAskSessionLoop(t *testing.T) {
	t.Parallel()
	ans := &recordingAnswerer{}
	var out bytes.Buffer
	s := &askSession{responder: ans, out: &out}

	err := s.loop(context.Background(), scriptedLines(
		"docs/book.txt",
		"Who is the hero?",
		"",
		":info",
		":file notes.pdf",
		"Summarize.",
		":q",
		"never asked",
	))
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	want := []string{"book.txt|Who is the hero?", "notes.pdf|Summarize."}
	if strings.Join(ans.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %q, want %q", ans.calls, want)
	}
	text := out.String()
	for _, w := range []string{"answer to Who is the hero?", "material: docs/book.txt", inference.MsgOnlyTxt} {
		if !strings.Contains(text, w) {
			t.Fatalf("output missing %q:\n%s", w, text)
		}
	}
}

func TestAskOneShotWithoutMaterial(t *testing.T) {
	t.Parallel()
	ans := &recordingAnswerer{}
	var out bytes.Buffer
	s := &askSession{responder: ans, out: &out, material: materialFor("  ")}
	if err := s.ask(context.Background(), "Anything?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.TrimSpace(out.String()) != inference.MsgOnlyTxt {
		t.Fatalf("output = %q", out.String())
	}
}
