// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/engine"
	"github.com/xkilldash9x/tablecast/internal/observability"
	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/style"
)

type contextKey string

const configKey contextKey = "config"

// shutdownGrace bounds how long commands wait for browsers to be released on exit.
const shutdownGrace = 10 * time.Second

// newRunner wires a browser manager to an orchestrator and returns the
// runner with a function that waits for its browsers. Tests replace it.
var newRunner = func(logger *zap.Logger, cfg config.Interface) (engine.Renderer, func(context.Context) error, error) {
	mgr := browser.NewManager(logger, cfg.Browser())
	orch, err := pipeline.New(logger, cfg, pipeline.FromManager(mgr))
	if err != nil {
		return nil, nil, err
	}
	return orch, mgr.Shutdown, nil
}

// Execute runs the root command with ctx, logging any failure.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	observability.Sync()
	return err
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()
	var tracing *observability.TracerProvider

	cmd := &cobra.Command{
		Use:           "tablecast",
		Short:         "tablecast renders lounge tables to PNG images through a headless browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tablecast"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tablecast"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			logger := observability.GetLogger()

			tp, err := observability.InitTracing(cfg.Tracing(), cfg.Logger().ServiceName, Version)
			if err != nil {
				return err
			}
			tracing = tp

			logger.Debug("Starting tablecast", zap.String("version", Version), zap.String("command", cmd.Name()))
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracing.Shutdown(ctx)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("logger.level", cmd.PersistentFlags().Lookup("log-level"))
	cmd.SetVersionTemplate(`{{printf "tablecast version %s\n" .Version}}`)

	cmd.AddCommand(newRenderCmd(v))
	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newChatCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// initializeConfig reads the config file and environment into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("expanding config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TABLECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}

func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// loadAsset returns the configured style asset, or nil when none is set.
// An asset that fails verification is still returned: each request then
// falls back to the default style and logs why.
func loadAsset(cfg config.Interface, logger *zap.Logger) (*style.Asset, error) {
	sc := cfg.Style()
	asset, err := style.New(sc.AssetPath, sc.Name)
	if errors.Is(err, style.ErrNoAsset) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := asset.Verify(); err != nil {
		logger.Warn("Style asset is not usable; tables will use the default style.", zap.Error(err))
	}
	return asset, nil
}
