package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/version"
)

func newApp() *cli.Command {
	serve := &serveOptions{}
	flags := append(globalFlags(), allModelFlags()...)
	flags = append(flags, serveFlags(serve, true)...)

	return &cli.Command{
		Name:    "longask",
		Usage:   "Long-context document Q&A demo for RoPE-scaled LLMs",
		Version: version.String(),
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd, serve)
		},
		Commands: []*cli.Command{
			serveCmd(),
			askCmd(),
			mcpCmd(),
			inspectCmd(),
			exportConfigCmd(),
			versionCmd(),
		},
	}
}

func main() {
	if err := loadDotEnv(envFileFromArgs(os.Args[1:])); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "load env file:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
