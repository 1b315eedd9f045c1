// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix namespaces environment overrides, e.g. SESSIONGATE_SERVER_ADDR.
const EnvPrefix = "SESSIONGATE"

var cfgFile string

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sessiongate",
		Short:         "sessiongate signs in to a storefront with a real browser and serves the session cookies.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "sessiongate"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting sessiongate", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.SetVersionTemplate(`{{printf "sessiongate version %s\n" .Version}}`)

	root.AddCommand(newServeCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree with ctx, which should be cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	err := newRootCmd().ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if logger := observability.GetLogger(); logger != nil {
		logger.Error("Command execution failed", zap.Error(err))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// initializeConfig reads the config file and environment into v.
func initializeConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration loaded by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		return nil, errors.New("no context available")
	}
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
