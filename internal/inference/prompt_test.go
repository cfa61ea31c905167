package inference

import "testing"

func TestFormatPrompt(t *testing.T) {
	t.Parallel()
	got := FormatPrompt("Once upon a time.", "Summarize the story.")
	want := "Below is an instruction that describes a task. Write a response that appropriately completes the request.\n\n" +
		"### Instruction:\nOnce upon a time.\nSummarize the story.\n\n### Response:"
	if got != want {
		t.Fatalf("FormatPrompt =\n%q\nwant\n%q", got, want)
	}

	// Braces in the material are not template placeholders.
	got = FormatPrompt("{instruction}", "q")
	if got != "Below is an instruction that describes a task. Write a response that appropriately completes the request.\n\n### Instruction:\n{instruction}\nq\n\n### Response:" {
		t.Fatalf("FormatPrompt with braces = %q", got)
	}
}

func TestExtractAnswer(t *testing.T) {
	t.Parallel()
	prompt := FormatPrompt("doc", "q")

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "continuation only", output: "  The answer.\n", want: "The answer."},
		{name: "echoed prompt", output: prompt + " The answer. ", want: "The answer."},
		{name: "echo with bos", output: "<s> " + prompt + "\nThe answer.</s>", want: "The answer."},
		{name: "prompt repeated", output: prompt + " first " + prompt + " second", want: "first"},
		{name: "empty", output: "   ", want: ""},
	}
	for _, tc := range tests {
		if got := ExtractAnswer(tc.output, prompt); got != tc.want {
			t.Fatalf("%s: ExtractAnswer = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSanitizeOutput(t *testing.T) {
	t.Parallel()
	if got := SanitizeOutput("done</s><|eot_id|>"); got != "done" {
		t.Fatalf("SanitizeOutput = %q", got)
	}
	if got := SanitizeOutput("a < b"); got != "a < b" {
		t.Fatalf("SanitizeOutput changed plain text: %q", got)
	}
}
