package inference

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitReasoning separates <think>...</think> blocks, as emitted by
// reasoning-tuned models, from the answer. Tags match case-insensitively and
// an unclosed block runs to the end of the text.
func SplitReasoning(out string) (answer, reasoning string) {
	var a, r strings.Builder
	rest := out
	for {
		i := indexFold(rest, thinkOpen)
		if i < 0 {
			a.WriteString(rest)
			break
		}
		a.WriteString(rest[:i])
		rest = rest[i+len(thinkOpen):]

		j := indexFold(rest, thinkClose)
		if j < 0 {
			r.WriteString(rest)
			break
		}
		r.WriteString(rest[:j])
		rest = rest[j+len(thinkClose):]
	}
	return a.String(), r.String()
}

// indexFold is strings.Index with ASCII case folding. Tags are ASCII, so
// byte offsets into s stay valid.
func indexFold(s, sub string) int {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		if s[i] == '<' && strings.EqualFold(s[i:i+n], sub) {
			return i
		}
	}
	return -1
}
