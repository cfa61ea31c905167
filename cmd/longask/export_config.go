package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/modelcfg"
)

// exportFiles are copied next to the scaled config.json when present.
var exportFiles = []string{
	modelcfg.GenerationConfigFile,
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"tokenizer.model",
}

func exportConfigCmd() *cli.Command {
	var (
		out   string
		force bool
	)

	return &cli.Command{
		Name:      "export-config",
		Usage:     "Write the RoPE-scaled config.json and tokenizer files for a serving backend",
		ArgsUsage: "<out-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Destination: &out,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "overwrite existing files",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			if out == "" {
				out = cmd.Args().First()
			}
			if out == "" {
				return cli.Exit("export-config: output directory is required", 1)
			}
			log := logger.FromContext(ctx)

			res, err := newLoader(log, false).Load(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("load model: %v", err), 1)
			}
			written, err := exportConfig(res.Config, res.Repo.Dir, out, force)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			log.Info("exported model config",
				"repo", repoLabel(res.Repo),
				"out", out,
				"files", written,
				"rope_scaled", res.RopeScaled,
			)
			return nil
		},
	}
}

// exportConfig writes cfg's scaled config.json into out and copies the
// companion files found in srcDir. It returns the file names written.
func exportConfig(cfg *modelcfg.Config, srcDir, out string, force bool) ([]string, error) {
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	data, err := cfg.MarshalScaled()
	if err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(out, modelcfg.ConfigFile), data, force); err != nil {
		return nil, err
	}
	written := []string{modelcfg.ConfigFile}

	for _, name := range exportFiles {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := copyFile(src, filepath.Join(out, name), force); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

func writeFile(path string, data []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s exists (use --force to overwrite)", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string, force bool) error {
	if same, err := sameFile(src, dst); err == nil && same {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return writeFile(dst, data, force)
}

func sameFile(a, b string) (bool, error) {
	sa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(sa, sb), nil
}
