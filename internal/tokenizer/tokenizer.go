// Package tokenizer implements Hugging Face tokenizer.json BPE models and a
// remote token counter for backends that expose a /tokenize endpoint.
package tokenizer

import "context"

// Tokenizer defines the minimal interface used by the responder.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Counter reports how many tokens a prompt occupies.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}
