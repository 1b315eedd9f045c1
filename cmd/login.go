// File: cmd/login.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/browser"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/cookies"
	"github.com/xkilldash9x/sessiongate/internal/observability"
)

// sessionDriver is the part of *browser.Acquirer the login command drives.
type sessionDriver interface {
	Login(ctx context.Context, storeURL, email, password string) browser.LoginOutcome
	AddProducts(ctx context.Context, productURL string, qty int) bool
	Cookies(ctx context.Context) []cookies.Cookie
	SaveCookies(ctx context.Context, path string) error
	LoadCookies(ctx context.Context, storeURL, path string) error
	Close()
}

var lookupEnv = os.Getenv

// newSessionDriver is swapped in tests.
var newSessionDriver = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sessionDriver, error) {
	acq, err := browser.NewAcquirer(ctx, cfg.Browser(), cfg.Store(), newLauncher(cfg.Browser(), logger), logger)
	if err != nil {
		return nil, err
	}
	return acq, nil
}

type loginOptions struct {
	email      string
	password   string
	product    string
	qty        int
	save       string
	load       string
	showValues bool
	headed     bool
	site       string
}

func newLoginCmd() *cobra.Command {
	var opts loginOptions
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in once through the browser and print the session cookies",
		Long: `Sign in once through the browser and print the session cookies.

With --load the stored cookie file is installed instead of signing in.
The password may also come from SESSIONGATE_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyBrowserFlags(cmd, cfg, opts.headed, opts.site)
			if opts.password == "" {
				opts.password = lookupEnv(EnvPrefix + "_PASSWORD")
			}
			return runLogin(ctx, cmd, cfg, opts, observability.GetLogger())
		},
	}
	f := loginCmd.Flags()
	f.StringVar(&opts.email, "email", "", "account email")
	f.StringVar(&opts.password, "password", "", "account password")
	f.StringVar(&opts.product, "product", "", "product page URL to add to the cart after signing in")
	f.IntVar(&opts.qty, "qty", 1, "quantity for --product")
	f.StringVar(&opts.save, "save", "", "write the cookies to this JSON file")
	f.StringVar(&opts.load, "load", "", "load cookies from this JSON file instead of signing in")
	f.BoolVar(&opts.showValues, "show-values", false, "print cookie values unmasked")
	addBrowserFlags(loginCmd, &opts.headed, &opts.site)
	return loginCmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts loginOptions, logger *zap.Logger) error {
	if opts.load == "" && (opts.email == "" || opts.password == "") {
		return errors.New("--email and --password are required unless --load is given")
	}
	if opts.product != "" && opts.qty < 1 {
		return fmt.Errorf("--qty must be at least 1, got %d", opts.qty)
	}

	driver, err := newSessionDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	if opts.load != "" {
		if err := driver.LoadCookies(ctx, "", opts.load); err != nil {
			return fmt.Errorf("failed to load cookies: %w", err)
		}
	} else {
		outcome := driver.Login(ctx, "", opts.email, opts.password)
		if !outcome.Success {
			return fmt.Errorf("login failed: %s", outcome.Reason)
		}
		logger.Info("Signed in.", zap.String("email", opts.email), zap.String("url", outcome.URL))
	}

	if opts.product != "" && !driver.AddProducts(ctx, opts.product, opts.qty) {
		logger.Warn("Products were not added to the cart.", zap.String("product_url", opts.product))
	}

	if opts.save != "" {
		if err := driver.SaveCookies(ctx, opts.save); err != nil {
			return fmt.Errorf("failed to save cookies: %w", err)
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), cookies.Describe(driver.Cookies(ctx), opts.showValues))
	return nil
}
