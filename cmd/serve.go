// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/browser"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/gateway"
	"github.com/xkilldash9x/sessiongate/internal/network"
	"github.com/xkilldash9x/sessiongate/internal/observability"
	"github.com/xkilldash9x/sessiongate/internal/server"
	"github.com/xkilldash9x/sessiongate/internal/store"
)

// newLauncher is swapped in tests so no Chrome is started.
var newLauncher = func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
	return browser.NewChromeLauncher(cfg, logger)
}

func newServeCmd() *cobra.Command {
	var (
		addr   string
		headed bool
		site   string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session gateway HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ServerCfg.Addr = addr
			}
			applyBrowserFlags(cmd, cfg, headed, site)
			return runServe(ctx, cfg, observability.GetLogger())
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	addBrowserFlags(serveCmd, &headed, &site)
	return serveCmd
}

func addBrowserFlags(cmd *cobra.Command, headed *bool, site *string) {
	cmd.Flags().BoolVar(headed, "headed", false, "show the browser window")
	cmd.Flags().StringVar(site, "store", "", "storefront base URL (overrides store.url)")
}

func applyBrowserFlags(cmd *cobra.Command, cfg config.Interface, headed bool, site string) {
	if cmd.Flags().Changed("headed") {
		cfg.SetBrowserHeadless(!headed)
	}
	if cmd.Flags().Changed("store") {
		cfg.SetStoreURL(site)
	}
}

// runServe wires config into the gateway and serves until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var opts []gateway.Option
	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()

		ledger, err := store.New(ctx, pool, logger)
		if err != nil {
			return err
		}
		if err := ledger.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, gateway.WithRecorder(ledger))
		logger.Info("Attempt ledger enabled.")
	}

	clientCfg, err := network.ClientConfigFrom(cfg.Network(), logger)
	if err != nil {
		return err
	}
	client := network.NewClient(clientCfg)
	defer client.CloseIdleConnections()

	launcher := newLauncher(cfg.Browser(), logger)
	// Login resets the browser anyway, so the gateway's acquirer starts none up front.
	factory := func(ctx context.Context) (gateway.SessionAcquirer, error) {
		acq, err := browser.NewAcquirer(ctx, cfg.Browser(), cfg.Store(), launcher, logger, browser.WithDeferredLaunch())
		if err != nil {
			return nil, err
		}
		return acq, nil
	}

	gw := gateway.New(cfg.Store(), cfg.Server(), factory, client, logger, opts...)
	defer gw.Close()

	logger.Info("Serving sessions.", zap.String("store", cfg.Store().URL), zap.String("busy_mode", cfg.Server().BusyMode))
	return server.New(cfg.Server(), gw, logger).Run(ctx)
}
