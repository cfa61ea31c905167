package inference

import "strings"

// specialMarkers are end-of-sequence strings some servers leave in the text
// when they do not skip special tokens.
var specialMarkers = []string{
	"<s>",
	"</s>",
	"<unk>",
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|eot_id|>",
	"<|im_end|>",
}

// SanitizeOutput removes special-token markers from generated text.
func SanitizeOutput(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	for _, token := range specialMarkers {
		text = strings.ReplaceAll(text, token, "")
	}
	return text
}
