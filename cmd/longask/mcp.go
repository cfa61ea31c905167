package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/mcpserver"
	"github.com/samcharles93/longask/internal/version"
)

func mcpCmd() *cli.Command {
	var root string

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the ask_document tool over MCP (stdio)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "root",
				Usage:       "only allow documents below this directory",
				Destination: &root,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// stdout carries the protocol, so logs must stay on stderr.
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			_, responder, err := loadResponder(ctx, cmd, cfg, false)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			srv, err := mcpserver.New("longask", version.String(), responder, log)
			if err != nil {
				return err
			}
			srv.Root = root
			log.Info("serving mcp on stdio", "root", root)
			return srv.Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}
