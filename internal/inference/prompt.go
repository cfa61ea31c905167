package inference

import "strings"

// PromptNoInput is the Alpaca instruction template the LongAlpaca models
// were tuned on.
const PromptNoInput = "Below is an instruction that describes a task. " +
	"Write a response that appropriately completes the request.\n\n" +
	"### Instruction:\n{instruction}\n\n### Response:"

// FormatPrompt fills the template with the material followed by the
// question on its own line.
func FormatPrompt(material, question string) string {
	return strings.Replace(PromptNoInput, "{instruction}", material+"\n"+question, 1)
}

// ExtractAnswer returns the generated text that follows the prompt. When the
// backend echoes the prompt, only the segment between the first and any
// second occurrence is kept. Surrounding whitespace is trimmed.
func ExtractAnswer(output, prompt string) string {
	if prompt != "" {
		if i := strings.Index(output, prompt); i >= 0 {
			output = output[i+len(prompt):]
			if j := strings.Index(output, prompt); j >= 0 {
				output = output[:j]
			}
		}
	}
	return strings.TrimSpace(SanitizeOutput(output))
}
