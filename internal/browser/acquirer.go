package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/cookies"
)

// LoginOutcome is the result of one login attempt. Reason is human-readable
// text and carries no structured code.
type LoginOutcome struct {
	Success bool
	Cookies []cookies.Cookie
	Reason  string
	// URL is where the browser ended up.
	URL string
}

// Session is the live browser owned by an Acquirer.
type Session struct {
	Page       Page
	ProfileDir string
	Strategy   string
	ExecPath   string
}

// Acquirer drives a browser through the storefront login. All methods are
// serialized; at most one browser is alive per Acquirer.
type Acquirer struct {
	mu         sync.Mutex
	browserCfg config.BrowserConfig
	store      config.StoreConfig
	launcher   Launcher
	strategies []ExecStrategy
	logger     *zap.Logger
	session    *Session
	deferred   bool

	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
}

// Option customizes an Acquirer.
type Option func(*Acquirer)

// WithStrategies replaces the exec strategies derived from configuration.
func WithStrategies(s ...ExecStrategy) Option {
	return func(a *Acquirer) { a.strategies = s }
}

// WithDeferredLaunch skips the browser start in NewAcquirer. The first Login
// launches it instead; until then methods that need a live page report
// ErrNoSession.
func WithDeferredLaunch() Option {
	return func(a *Acquirer) { a.deferred = true }
}

// NewAcquirer builds an Acquirer and starts its first browser. It returns an
// *InitializationError when no exec strategy yields a working browser.
func NewAcquirer(ctx context.Context, browserCfg config.BrowserConfig, store config.StoreConfig, launcher Launcher, logger *zap.Logger, opts ...Option) (*Acquirer, error) {
	a := &Acquirer{
		browserCfg: browserCfg,
		store:      store,
		launcher:   launcher,
		logger:     logger.Named("acquirer"),
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.strategies == nil {
		s, err := StrategiesFromConfig(browserCfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.strategies = s
	}
	if a.deferred {
		a.logger.Debug("Browser launch deferred until the first login.", zap.Int("strategies", len(a.strategies)))
		return a, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.reset(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Reset tears down the current browser and starts a fresh one on a new profile.
func (a *Acquirer) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reset(ctx)
}

// ProfileDir returns the profile directory of the live session, if any.
func (a *Acquirer) ProfileDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ""
	}
	return a.session.ProfileDir
}

func (a *Acquirer) reset(ctx context.Context) error {
	a.closeLocked()

	base := a.browserCfg.ProfileDir
	if base != "" {
		expanded, err := homedir.Expand(base)
		if err != nil {
			return &InitializationError{Attempts: fmt.Errorf("profile_dir: %w", err)}
		}
		base = expanded
	}
	prefix := a.browserCfg.ProfilePrefix
	if prefix == "" {
		prefix = "chrome_user_data_"
	}
	dir, err := a.mkdirTemp(base, prefix+"*")
	if err != nil {
		return &InitializationError{Attempts: fmt.Errorf("profile directory: %w", err)}
	}

	var attempts error
	for _, strategy := range a.strategies {
		if err := ctx.Err(); err != nil {
			attempts = multierr.Append(attempts, err)
			break
		}
		execPath, err := strategy.Resolve(ctx)
		if err != nil {
			a.logger.Debug("Exec strategy did not resolve a browser.", zap.String("strategy", strategy.Name), zap.Error(err))
			attempts = multierr.Append(attempts, fmt.Errorf("%s: %w", strategy.Name, err))
			continue
		}
		page, err := a.launcher.Launch(ctx, LaunchOptions{
			ExecPath:     execPath,
			ProfileDir:   dir,
			Headless:     a.browserCfg.Headless,
			WindowWidth:  a.browserCfg.WindowWidth,
			WindowHeight: a.browserCfg.WindowHeight,
			UserAgent:    a.browserCfg.UserAgent,
			ExtraArgs:    a.browserCfg.Args,
		})
		if err != nil {
			a.logger.Warn("Browser failed to launch.", zap.String("strategy", strategy.Name), zap.String("exec_path", execPath), zap.Error(err))
			attempts = multierr.Append(attempts, fmt.Errorf("%s (%s): %w", strategy.Name, execPath, err))
			continue
		}

		a.session = &Session{Page: page, ProfileDir: dir, Strategy: strategy.Name, ExecPath: execPath}
		a.logger.Info("Browser session started.",
			zap.String("strategy", strategy.Name),
			zap.String("exec_path", execPath),
			zap.String("profile_dir", dir),
		)
		return nil
	}

	if err := a.removeAll(dir); err != nil {
		a.logger.Warn("Could not clean up profile directory.", zap.String("profile_dir", dir), zap.Error(err))
	}
	initErr := &InitializationError{Attempts: attempts}
	a.logger.Error("Browser initialization failed.", zap.Error(initErr))
	return initErr
}

// Login runs the storefront login protocol on a fresh browser. It never
// returns an error; every failure is folded into a failed LoginOutcome.
func (a *Acquirer) Login(ctx context.Context, storeURL, email, password string) (outcome LoginOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Login protocol panicked.", zap.Any("panic", r), zap.Stack("stack"))
			outcome = LoginOutcome{Reason: fmt.Sprintf("unexpected error during login: %v", r)}
		}
	}()

	if err := a.reset(ctx); err != nil {
		return LoginOutcome{Reason: err.Error()}
	}

	site := a.store
	if storeURL != "" {
		site.URL = storeURL
	}

	outcome, err := a.login(ctx, a.session.Page, site, email, password)
	if err != nil {
		a.logger.Error("Login attempt failed.", zap.Error(err))
		return LoginOutcome{Reason: err.Error(), URL: outcome.URL}
	}
	return outcome
}

func (a *Acquirer) login(ctx context.Context, page Page, site config.StoreConfig, email, password string) (LoginOutcome, error) {
	loginURL := site.LoginURL()
	log := a.logger.With(zap.String("login_url", loginURL))

	log.Info("Navigating to login page.")
	if err := page.Navigate(ctx, loginURL); err != nil {
		return LoginOutcome{}, stepErr("navigate to login page", err)
	}

	if site.LoginFrame != "" {
		lookup, err := page.EnterFrame(ctx, site.LoginFrame)
		switch lookup {
		case FrameFound:
			log.Debug("Entered login iframe.", zap.String("frame", site.LoginFrame))
		case FrameNotFound:
			log.Debug("Login iframe absent; using top-level document.", zap.String("frame", site.LoginFrame))
		default:
			log.Warn("Login iframe lookup failed; using top-level document.", zap.String("frame", site.LoginFrame), zap.Error(err))
		}
	}

	var submitted bool
	err := page.Evaluate(ctx, fillLoginScript, &submitted, email, password, site.SubmitSelector)
	page.LeaveFrame()
	if err != nil {
		return LoginOutcome{}, stepErr("inject credentials", err)
	}
	log.Info("Credentials submitted.")

	// The cart indicator lives in the storefront header, outside the login iframe.
	wait := a.browserCfg.WaitTimeout
	if _, err := a.waitForClass(ctx, page, site.CartIndicatorClass, wait); err != nil {
		if ctx.Err() != nil {
			return LoginOutcome{}, stepErr("wait for cart indicator", err)
		}
		log.Warn("Cart indicator did not appear after submit.", zap.Error(err))
	}

	if err := sleepCtx(ctx, a.browserCfg.SettleDelay); err != nil {
		return LoginOutcome{}, stepErr("settle", err)
	}

	// The storefront reloads after login. Watch the current indicator detach
	// and a new one appear; neither is required to reach a verdict.
	if ref, err := a.waitForClass(ctx, page, site.CartIndicatorClass, wait); err != nil {
		log.Warn("Reload detection skipped: cart indicator not present.", zap.Error(err))
	} else if err := a.waitStale(ctx, page, ref, wait); err != nil {
		log.Warn("Reload not observed.", zap.Error(err))
	} else {
		log.Debug("Reload started.")
	}
	if _, err := a.waitForClass(ctx, page, site.CartIndicatorClass, wait); err != nil {
		log.Warn("Cart indicator did not reappear after reload.", zap.Error(err))
	} else {
		log.Debug("Reload finished.")
	}
	if err := ctx.Err(); err != nil {
		return LoginOutcome{}, stepErr("wait for reload", err)
	}

	current, err := page.Location(ctx)
	if err != nil {
		return LoginOutcome{}, stepErr("read location", err)
	}
	source, err := page.Source(ctx)
	if err != nil {
		return LoginOutcome{URL: current}, stepErr("read page source", err)
	}
	log.Info("Evaluating login result.", zap.String("current_url", current))

	if !EvaluateSuccess(current, loginURL, source) {
		return LoginOutcome{
			URL:    current,
			Reason: fmt.Sprintf("login could not be confirmed (ended at %s)", current),
		}, nil
	}

	if err := page.Navigate(ctx, site.CartURL()); err != nil {
		log.Warn("Could not open cart page after login.", zap.Error(err))
	}

	jar := a.cookiesFrom(ctx, page)
	log.Info("Login succeeded.", zap.Int("cookie_count", len(jar)), zap.Strings("cookie_names", cookies.Names(jar)))
	return LoginOutcome{Success: true, Cookies: jar, URL: current}, nil
}

func (a *Acquirer) waitForClass(ctx context.Context, page Page, class string, timeout time.Duration) (ElementRef, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return page.WaitForClass(waitCtx, class)
}

func (a *Acquirer) waitStale(ctx context.Context, page Page, ref ElementRef, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return page.WaitStale(waitCtx, ref)
}

func (a *Acquirer) cookiesFrom(ctx context.Context, page Page) []cookies.Cookie {
	cs, err := page.Cookies(ctx)
	if err != nil {
		a.logger.Error("Error getting cookies.", zap.Error(err))
		return []cookies.Cookie{}
	}
	if cs == nil {
		return []cookies.Cookie{}
	}
	return cs
}

// Cookies returns the cookies visible to the current page. It returns an
// empty slice when there is no browser or the read fails.
func (a *Acquirer) Cookies(ctx context.Context) []cookies.Cookie {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		a.logger.Warn("Cookies requested with no active browser session.")
		return []cookies.Cookie{}
	}
	return a.cookiesFrom(ctx, a.session.Page)
}

// AddProducts opens productURL when the browser is elsewhere, sets the
// quantity field and presses the add-to-cart button. Failures are logged.
func (a *Acquirer) AddProducts(ctx context.Context, productURL string, qty int) (ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.logger.With(zap.String("product_url", productURL), zap.Int("quantity", qty))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Adding products panicked.", zap.Any("panic", r), zap.Stack("stack"))
			ok = false
		}
	}()

	if a.session == nil {
		log.Error("Cannot add products without an active browser session.")
		return false
	}
	page := a.session.Page

	current, err := page.Location(ctx)
	if err != nil || current != productURL {
		if err := page.Navigate(ctx, productURL); err != nil {
			log.Error("Failed to open product page.", zap.Error(stepErr("navigate to product", err)))
			return false
		}
	}

	var clicked bool
	if err := page.Evaluate(ctx, addProductScript, &clicked, qty); err != nil {
		log.Error("Failed to add products.", zap.Error(stepErr("add to cart", err)))
		return false
	}
	log.Info("Products added to cart.")
	return clicked
}

// SaveCookies writes the current page cookies to path.
func (a *Acquirer) SaveCookies(ctx context.Context, path string) error {
	cs := a.Cookies(ctx)
	if err := cookies.SaveFile(path, cs); err != nil {
		return err
	}
	a.logger.Info("Cookies saved.", zap.String("path", path), zap.Int("count", len(cs)))
	return nil
}

// LoadCookies installs the cookies stored at path into the browser for
// storeURL and reloads the page so they take effect.
func (a *Acquirer) LoadCookies(ctx context.Context, storeURL, path string) error {
	cs, err := cookies.LoadFile(path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ErrNoSession
	}
	page := a.session.Page
	if storeURL == "" {
		storeURL = a.store.URL
	}
	if err := page.Navigate(ctx, storeURL); err != nil {
		return stepErr("navigate to store", err)
	}
	if err := page.SetCookies(ctx, cs); err != nil {
		return stepErr("set cookies", err)
	}
	if err := page.Reload(ctx); err != nil {
		return stepErr("reload", err)
	}
	a.logger.Info("Cookies loaded.", zap.String("path", path), zap.Int("count", len(cs)))
	return nil
}

// Close terminates the browser and removes its profile directory. It is safe
// to call at any time, including more than once.
func (a *Acquirer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
}

func (a *Acquirer) closeLocked() {
	s := a.session
	if s == nil {
		return
	}
	a.session = nil

	if s.Page != nil {
		if err := s.Page.Close(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		}
	}
	if s.ProfileDir == "" {
		return
	}
	if err := a.removeAll(s.ProfileDir); err != nil {
		a.logger.Warn("Could not clean up temporary profile directory.", zap.String("profile_dir", s.ProfileDir), zap.Error(err))
		return
	}
	a.logger.Debug("Cleaned up temporary profile directory.", zap.String("profile_dir", s.ProfileDir))
}
