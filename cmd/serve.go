package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tablecast/internal/engine"
	"github.com/xkilldash9x/tablecast/internal/observability"
	"github.com/xkilldash9x/tablecast/internal/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the table rendering HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromContext(cmd.Context())
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
			srv := server.New(logger, cfg, eng)

			g, gctx := errgroup.WithContext(cmd.Context())
			eng.Start(gctx)

			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				eng.Stop()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Warn("Browser shutdown incomplete.", zap.Error(err))
				}
				return nil
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Server stopped.")
			return nil
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default from server.listen_addr)")
	_ = v.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen"))
	return cmd
}
