package cmd

import (
	"context"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/chat"
	"github.com/xkilldash9x/tablecast/internal/engine"
	"github.com/xkilldash9x/tablecast/internal/observability"
)

func newChatCmd(v *viper.Viper) *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Answer table commands typed on stdin",
		Long: `Chat reads messages from stdin, separated by blank lines, and answers
every table command the way the chat bot would. Images are written to the
output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			asset, err := loadAsset(cfg, logger)
			if err != nil {
				return err
			}
			runner, shutdown, err := newRunner(logger, cfg)
			if err != nil {
				return err
			}
			eng, err := engine.New(cfg, logger, runner, asset)
			if err != nil {
				return err
			}
			eng.Start(ctx)
			defer func() {
				eng.Stop()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Warn("Browser shutdown incomplete.", zap.Error(err))
				}
			}()

			outDir, err := homedir.Expand(cfg.Chat().OutputDir)
			if err != nil {
				return err
			}
			transport := chat.NewConsoleTransport(cmd.InOrStdin(), cmd.OutOrStdout(), outDir, author)
			handler := chat.NewHandler(logger, cfg, eng, transport)
			return transport.Run(ctx, handler)
		},
	}

	cmd.Flags().StringVar(&author, "author", "console", "author name attached to messages")
	cmd.Flags().String("output-dir", "", "directory for rendered images (default from chat.output_dir)")
	cmd.Flags().String("command", "", "command word that triggers a render (default from chat.command)")
	_ = v.BindPFlag("chat.output_dir", cmd.Flags().Lookup("output-dir"))
	_ = v.BindPFlag("chat.command", cmd.Flags().Lookup("command"))
	return cmd
}
