package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/observability"
	"github.com/xkilldash9x/tablecast/internal/table"
)

var errNoInput = errors.New("no table text: pass it as arguments, with --file, or with --file - for stdin")

func newRenderCmd(v *viper.Viper) *cobra.Command {
	var file, out string

	cmd := &cobra.Command{
		Use:   "render [table lines...]",
		Short: "Render one table to a PNG image",
		Long: `Render drives the table site once and writes the resulting image.

Table text comes from the arguments (one line each), from --file, or from
stdin with --file -. Use --out - to stream the PNG to stdout.`,
		Example: `  tablecast render "A - Red Team" "P1 1500" "P2 1400"
  tablecast render --file table.txt --out table.png --style ~/styles/neon.json --style-name Neon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("render")

			raw, err := readInput(cmd, file, args)
			if err != nil {
				return err
			}
			spec, err := table.Parse(raw, cfg.Pipeline().MaxSpecLength)
			if err != nil {
				return fmt.Errorf("invalid table: %w", err)
			}

			asset, err := loadAsset(cfg, logger)
			if err != nil {
				return err
			}

			runner, shutdown, err := newRunner(logger, cfg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Warn("Browser shutdown incomplete.", zap.Error(err))
				}
			}()

			art, err := runner.Run(ctx, spec, asset)
			if err != nil {
				return err
			}

			dest, err := writeOutput(cmd, out, art.Data)
			if err != nil {
				return err
			}
			logger.Info("Table rendered.",
				zap.String("request_id", art.RequestID),
				zap.String("strategy", art.Strategy),
				zap.Bool("style_applied", art.StyleApplied),
				zap.Int("bytes", art.Size()),
				zap.String("output", dest))
			if dest != "-" {
				cmd.Printf("Wrote %s (%d bytes)\n", dest, art.Size())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the table from a file, or - for stdin")
	cmd.Flags().StringVarP(&out, "out", "o", "table.png", "output path, or - for stdout")
	cmd.Flags().String("style", "", "style definition to import before rendering")
	cmd.Flags().String("style-name", "", "style to activate after the import")
	cmd.Flags().Duration("deadline", 0, "overall time limit for the render")
	cmd.Flags().Bool("headful", false, "show the browser window")

	_ = v.BindPFlag("style.asset_path", cmd.Flags().Lookup("style"))
	_ = v.BindPFlag("style.name", cmd.Flags().Lookup("style-name"))
	_ = v.BindPFlag("pipeline.deadline", cmd.Flags().Lookup("deadline"))
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if headful, _ := cmd.Flags().GetBool("headful"); headful {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg.SetBrowserHeadless(false)
		}
		return nil
	}
	return cmd
}

func readInput(cmd *cobra.Command, file string, args []string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		path, err := homedir.Expand(file)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading table file: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, "\n"), nil
	default:
		return "", errNoInput
	}
}

// writeOutput stores the image and returns where it went.
func writeOutput(cmd *cobra.Command, out string, data []byte) (string, error) {
	if out == "-" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return "", fmt.Errorf("writing image to stdout: %w", err)
		}
		return out, nil
	}
	path, err := homedir.Expand(out)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}
