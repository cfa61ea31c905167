package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
)

const askHelp = `Type a question about the material and press enter.
  :file <path>   switch to another material
  :info          show the current material
  :quit          exit (Ctrl+D works too)`

func askCmd() *cli.Command {
	var (
		file     string
		question string
		raw      bool
		width    int
	)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask questions about a .txt document from the terminal",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to the material (.txt)",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "question",
				Aliases:     []string{"q"},
				Usage:       "question to answer; omit for an interactive session",
				Destination: &question,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print answers without markdown rendering",
				Destination: &raw,
			},
			&cli.IntFlag{
				Name:        "width",
				Usage:       "wrap width for rendered answers",
				Value:       100,
				Destination: &width,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			if file == "" {
				file = cmd.Args().First()
			}
			_, responder, err := loadResponder(ctx, cmd, cfg, false)
			if err != nil {
				return err
			}
			s := &askSession{
				responder: responder,
				render:    newAnswerRenderer(raw || !stdoutIsTTY(), width),
				out:       cmd.Root().Writer,
				material:  materialFor(file),
			}
			if question != "" {
				return s.ask(ctx, question)
			}
			return s.loop(ctx, readInteractiveLine)
		},
	}
}

type askSession struct {
	responder interface {
		Answer(ctx context.Context, m *inference.Material, question string) (*inference.Answer, error)
	}
	render   answerRenderer
	out      io.Writer
	material *inference.Material
}

func materialFor(path string) *inference.Material {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &inference.Material{Name: filepath.Base(path), Path: path}
}

func (s *askSession) ask(ctx context.Context, question string) error {
	ans, err := s.responder.Answer(ctx, s.material, question)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, _ = fmt.Fprintln(s.out, s.render.render(ans.Text))
	if !ans.Rejected {
		logger.FromContext(ctx).Debug("answer stats", "prompt_tokens", ans.PromptTokens, "took", ans.Duration)
	}
	return nil
}

// loop reads commands and questions until EOF.
func (s *askSession) loop(ctx context.Context, readLine func(prompt string) (string, error)) error {
	_, _ = fmt.Fprintln(s.out, askHelp)
	for {
		if s.material == nil {
			path, err := readLine("material> ")
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			s.material = materialFor(path)
			continue
		}

		line, err := readLine("question> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":info":
			_, _ = fmt.Fprintf(s.out, "material: %s\n", s.material.Path)
			continue
		case strings.HasPrefix(line, ":file"):
			s.material = materialFor(strings.TrimPrefix(line, ":file"))
			continue
		}

		if err := s.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return err
			}
			_, _ = fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}
