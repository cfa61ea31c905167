package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// answerRenderer formats answers as terminal markdown; with a nil
// renderer text is passed through.
type answerRenderer struct {
	r *glamour.TermRenderer
}

func newAnswerRenderer(raw bool, width int) answerRenderer {
	if raw {
		return answerRenderer{}
	}
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return answerRenderer{}
	}
	return answerRenderer{r: r}
}

func (a answerRenderer) render(text string) string {
	if a.r == nil {
		return text
	}
	out, err := a.r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
