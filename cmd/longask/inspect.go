package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/hub"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/modelcfg"
	"github.com/samcharles93/longask/internal/tokenizer"
)

type inspectReport struct {
	BaseModel      string                      `json:"base_model"`
	Dir            string                      `json:"dir"`
	Commit         string                      `json:"commit,omitempty"`
	Architecture   string                      `json:"architecture"`
	ModelType      string                      `json:"model_type"`
	OrigContext    int                         `json:"max_position_embeddings"`
	ContextSize    int                         `json:"context_size"`
	ModelMaxLength int                         `json:"model_max_length"`
	RopeScaling    *modelcfg.RopeScaling       `json:"rope_scaling,omitempty"`
	FlashAttention bool                        `json:"flash_attention"`
	Tokenizer      string                      `json:"tokenizer"`
	AddBOS         bool                        `json:"add_bos,omitempty"`
	Generation     modelcfg.GenerationDefaults `json:"generation_config"`
	Sampling       inference.Sampling          `json:"sampling"`
	Sample         *tokenSample                `json:"sample,omitempty"`
}

// tokenSample is an encode/decode round trip of user-supplied text.
type tokenSample struct {
	Text    string   `json:"text"`
	IDs     []int    `json:"ids"`
	Pieces  []string `json:"pieces"`
	Decoded string   `json:"decoded"`
	Plain   string   `json:"plain"`
}

func encodeSample(tok *tokenizer.HFTokenizer, text string) (*tokenSample, error) {
	ids, err := tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	decoded, err := tok.Decode(ids)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	plain, err := tok.DecodeSkipSpecial(ids)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = tok.TokenString(id)
	}
	return &tokenSample{Text: text, IDs: ids, Pieces: pieces, Decoded: decoded, Plain: plain}, nil
}

func inspectCmd() *cli.Command {
	var (
		asJSON bool
		sample string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the resolved model config, RoPE scaling and tokenizer",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
			&cli.StringFlag{
				Name:        "encode",
				Usage:       "also show how `TEXT` is tokenized and decoded back",
				Destination: &sample,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			res, err := newLoader(log, false).Load(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("load model: %v", err), 1)
			}
			rep := buildReport(res, inference.ResolveSampling(requestOptions(cmd, cfg), res.GenerationDefaults))
			if cmd.IsSet("encode") {
				if res.Tokenizer == nil {
					return cli.Exit("--encode needs a local tokenizer.json", 1)
				}
				if rep.Sample, err = encodeSample(res.Tokenizer, sample); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.Root().Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReport(cmd.Root().Writer, rep)
			return nil
		},
	}
}

func buildReport(res *inference.LoadResult, s inference.Sampling) inspectReport {
	rep := inspectReport{
		BaseModel:      baseModel,
		Architecture:   res.Config.Architecture(),
		ModelType:      res.Config.ModelType,
		OrigContext:    res.Config.MaxPositionEmbeddings,
		ContextSize:    contextSize,
		ModelMaxLength: res.ModelMaxLength,
		RopeScaling:    res.Config.RopeScaling,
		FlashAttention: res.Config.FlashAttention,
		Tokenizer:      tokenizerSummary(res),
		Generation:     res.GenerationDefaults,
		Sampling:       s,
	}
	if repo := res.Repo; repo != nil {
		rep.Dir = repo.Dir
		rep.Commit = repo.Commit
	}
	if res.Tokenizer != nil {
		rep.AddBOS = res.Tokenizer.AddBOS()
	}
	return rep
}

func printReport(w io.Writer, rep inspectReport) {
	row := func(k string, v any) {
		_, _ = fmt.Fprintf(w, "%-18s %v\n", k+":", v)
	}
	row("base model", rep.BaseModel)
	row("directory", rep.Dir)
	if rep.Commit != "" {
		row("commit", rep.Commit)
	}
	row("architecture", rep.Architecture)
	row("model type", rep.ModelType)
	row("orig context", rep.OrigContext)
	row("context size", rep.ContextSize)
	row("model max length", rep.ModelMaxLength)
	if rs := rep.RopeScaling; rs != nil {
		row("rope scaling", fmt.Sprintf("%s x%g", rs.Type, rs.Factor))
	} else {
		row("rope scaling", "none")
	}
	row("flash attention", rep.FlashAttention)
	row("tokenizer", rep.Tokenizer)
	row("sampling", fmt.Sprintf("temperature=%g top_p=%g max_gen_len=%d",
		rep.Sampling.Temperature, rep.Sampling.TopP, rep.Sampling.MaxGenLen))
	if ids := rep.Generation.EOSTokenIDs; len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprint(id)
		}
		row("eos ids", strings.Join(parts, ", "))
	}
	if sm := rep.Sample; sm != nil {
		row("sample", fmt.Sprintf("%q", sm.Text))
		row("token ids", fmt.Sprint(sm.IDs))
		row("pieces", fmt.Sprintf("%q", sm.Pieces))
		row("decoded", fmt.Sprintf("%q", sm.Decoded))
		row("plain", fmt.Sprintf("%q", sm.Plain))
	}
}

// repoLabel names the resolved repository for log lines.
func repoLabel(repo *hub.Repo) string {
	if repo == nil {
		return ""
	}
	if repo.Local {
		return repo.Dir
	}
	return repo.ID + "@" + repo.Revision
}
