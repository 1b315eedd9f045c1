// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/sessiongate/internal/browser"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/cookies"
	"github.com/xkilldash9x/sessiongate/internal/observability"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	origDriver, origLauncher, origEnv := newSessionDriver, newLauncher, lookupEnv
	t.Cleanup(func() {
		newSessionDriver, newLauncher, lookupEnv = origDriver, origLauncher, origEnv
		cfgFile = ""
		observability.ResetForTest()
	})
	lookupEnv = func(string) string { return "" }

	// Keep the config lookup away from any config.yaml next to the tests.
	t.Chdir(t.TempDir())

	// Pin a silent global logger so commands never open a log file.
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal"}, zapcore.AddSync(io.Discard))
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

type fakeDriver struct {
	mu        sync.Mutex
	outcome   browser.LoginOutcome
	loadErr   error
	added     bool
	cookies   []cookies.Cookie
	logins    []string
	loads     []string
	products  []string
	saved     []string
	closed    int
	configURL string
}

func (d *fakeDriver) Login(ctx context.Context, storeURL, email, password string) browser.LoginOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins = append(d.logins, email)
	return d.outcome
}

func (d *fakeDriver) AddProducts(ctx context.Context, productURL string, qty int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products = append(d.products, productURL)
	return d.added
}

func (d *fakeDriver) Cookies(ctx context.Context) []cookies.Cookie { return d.cookies }

func (d *fakeDriver) SaveCookies(ctx context.Context, path string) error {
	d.mu.Lock()
	d.saved = append(d.saved, path)
	d.mu.Unlock()
	return cookies.SaveFile(path, d.cookies)
}

func (d *fakeDriver) LoadCookies(ctx context.Context, storeURL, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads = append(d.loads, path)
	return d.loadErr
}

func (d *fakeDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func installDriver(t *testing.T, d *fakeDriver) {
	t.Helper()
	newSessionDriver = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sessionDriver, error) {
		d.configURL = cfg.Store().URL
		return d, nil
	}
}

func TestVersion(t *testing.T) {
	resetForTest(t)

	out, err := execute(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "sessiongate version "+Version)

	out, err = execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "sessiongate version "+Version+"\n", out)
}

func TestLoginSuccess(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{
		outcome: browser.LoginOutcome{Success: true, URL: "https://shop.example.com/account"},
		added:   true,
		cookies: []cookies.Cookie{{Name: "cart", Value: "abcdefghijklmnop", Domain: "shop.example.com", Path: "/"}},
	}
	installDriver(t, d)
	savePath := filepath.Join(t.TempDir(), "cookies.json")

	out, err := execute(t, context.Background(), "login",
		"--email", "a@example.com", "--password", "pw",
		"--product", "https://shop.example.com/products/x", "--qty", "2",
		"--save", savePath)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.com"}, d.logins)
	assert.Equal(t, []string{"https://shop.example.com/products/x"}, d.products)
	assert.Equal(t, []string{savePath}, d.saved)
	assert.Equal(t, 1, d.closed)
	assert.Contains(t, out, "Name: cart")
	assert.NotContains(t, out, "abcdefghijklmnop", "values are masked by default")

	saved, err := cookies.LoadFile(savePath)
	require.NoError(t, err)
	assert.Equal(t, d.cookies, saved)
}

func TestLoginShowValues(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{
		outcome: browser.LoginOutcome{Success: true},
		cookies: []cookies.Cookie{{Name: "cart", Value: "abcdefghijklmnop"}},
	}
	installDriver(t, d)

	out, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw", "--show-values")
	require.NoError(t, err)
	assert.Contains(t, out, "abcdefghijklmnop")
}

func TestLoginPasswordFromEnv(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{outcome: browser.LoginOutcome{Success: true}}
	installDriver(t, d)
	lookupEnv = func(key string) string {
		if key == "SESSIONGATE_PASSWORD" {
			return "from-env"
		}
		return ""
	}

	_, err := execute(t, context.Background(), "login", "--email", "a@example.com")
	require.NoError(t, err)
	assert.Len(t, d.logins, 1)
}

func TestLoginFailure(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{outcome: browser.LoginOutcome{Reason: "Login failed - still on login page"}}
	installDriver(t, d)

	_, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still on login page")
	assert.Equal(t, 1, d.closed, "browser is released on failure")
}

func TestLoginArgumentValidation(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{}
	installDriver(t, d)

	_, err := execute(t, context.Background(), "login", "--email", "a@example.com")
	assert.ErrorContains(t, err, "--email and --password are required")

	_, err = execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw", "--product", "https://x", "--qty", "0")
	assert.ErrorContains(t, err, "--qty must be at least 1")
	assert.Empty(t, d.logins)
}

func TestLoginLoad(t *testing.T) {
	resetForTest(t)
	d := &fakeDriver{cookies: []cookies.Cookie{{Name: "cart", Value: "c"}}}
	installDriver(t, d)

	_, err := execute(t, context.Background(), "login", "--load", "cookies.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"cookies.json"}, d.loads)
	assert.Empty(t, d.logins)

	d.loadErr = browser.ErrNoSession
	_, err = execute(t, context.Background(), "login", "--load", "cookies.json")
	assert.ErrorIs(t, err, browser.ErrNoSession)
}

func TestLoginDriverInitFailure(t *testing.T) {
	resetForTest(t)
	initErr := &browser.InitializationError{Attempts: errors.New("download: offline")}
	newSessionDriver = func(context.Context, *config.Config, *zap.Logger) (sessionDriver, error) {
		return nil, initErr
	}

	_, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw")
	var target *browser.InitializationError
	assert.ErrorAs(t, err, &target)
}

func TestConfigSources(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("SESSIONGATE_STORE_URL", "https://env.example.com")
		d := &fakeDriver{outcome: browser.LoginOutcome{Success: true}}
		installDriver(t, d)

		_, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw")
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", d.configURL)
	})

	t.Run("flag beats environment", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("SESSIONGATE_STORE_URL", "https://env.example.com")
		d := &fakeDriver{outcome: browser.LoginOutcome{Success: true}}
		installDriver(t, d)

		_, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw", "--store", "https://flag.example.com")
		require.NoError(t, err)
		assert.Equal(t, "https://flag.example.com", d.configURL)
	})

	t.Run("config file", func(t *testing.T) {
		resetForTest(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  url: https://file.example.com\n"), 0o600))
		d := &fakeDriver{outcome: browser.LoginOutcome{Success: true}}
		installDriver(t, d)

		_, err := execute(t, context.Background(), "login", "--config", path, "--email", "a@example.com", "--password", "pw")
		require.NoError(t, err)
		assert.Equal(t, "https://file.example.com", d.configURL)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("SESSIONGATE_SERVER_BUSY_MODE", "drop")
		installDriver(t, &fakeDriver{})

		_, err := execute(t, context.Background(), "login", "--email", "a@example.com", "--password", "pw")
		assert.ErrorContains(t, err, "failed to load or validate config")
	})
}

type noLauncher struct{ launches int }

func (l *noLauncher) Launch(context.Context, browser.LaunchOptions) (browser.Page, error) {
	l.launches++
	return nil, errors.New("no browser in tests")
}

func TestServeStopsOnCancel(t *testing.T) {
	resetForTest(t)
	l := &noLauncher{}
	newLauncher = func(config.BrowserConfig, *zap.Logger) browser.Launcher { return l }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, "serve", "--addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Zero(t, l.launches, "the browser starts lazily on the first session request")
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
