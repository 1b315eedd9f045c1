package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/config"
)

// ExecStrategy resolves the path of a browser binary.
type ExecStrategy struct {
	Name    string
	Resolve func(ctx context.Context) (string, error)
}

// Strategy names accepted in browser.exec_strategies.
const (
	StrategyDownload = "download"
	StrategyPath     = "path"
	StrategyKnown    = "known"
	StrategyExplicit = "explicit"
)

// Binary names looked up on $PATH, most specific first.
var browserBinaries = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
}

// Function variables so tests can stub host lookups.
var (
	execLookPath    = exec.LookPath
	knownLookPath   = launcher.LookPath
	osStat          = os.Stat
	downloadBrowser = func(ctx context.Context, logger *zap.Logger) (string, error) {
		b := launcher.NewBrowser()
		b.Context = ctx
		b.Logger = rodLogger{logger}
		return b.Get()
	}
)

// rodLogger forwards the launcher's download progress to zap.
type rodLogger struct{ l *zap.Logger }

func (r rodLogger) Println(vs ...interface{}) {
	r.l.Debug(strings.TrimSpace(fmt.Sprintln(vs...)))
}

// DownloadStrategy fetches a pinned Chromium revision into the user cache,
// reusing a previous download when present.
func DownloadStrategy(logger *zap.Logger) ExecStrategy {
	return ExecStrategy{
		Name: StrategyDownload,
		Resolve: func(ctx context.Context) (string, error) {
			path, err := downloadBrowser(ctx, logger.Named("download"))
			if err != nil {
				return "", fmt.Errorf("failed to download browser: %w", err)
			}
			return path, nil
		},
	}
}

// PathStrategy looks for a Chrome or Chromium binary on $PATH.
func PathStrategy() ExecStrategy {
	return ExecStrategy{
		Name: StrategyPath,
		Resolve: func(ctx context.Context) (string, error) {
			for _, name := range browserBinaries {
				if p, err := execLookPath(name); err == nil {
					return p, nil
				}
			}
			return "", fmt.Errorf("none of %s found on PATH", strings.Join(browserBinaries, ", "))
		},
	}
}

// KnownPathsStrategy checks the usual install locations for the host OS.
func KnownPathsStrategy() ExecStrategy {
	return ExecStrategy{
		Name: StrategyKnown,
		Resolve: func(ctx context.Context) (string, error) {
			if p, ok := knownLookPath(); ok {
				return p, nil
			}
			return "", errors.New("no browser found in well-known install locations")
		},
	}
}

// ExplicitStrategy uses a configured binary path.
func ExplicitStrategy(path string) ExecStrategy {
	return ExecStrategy{
		Name: StrategyExplicit,
		Resolve: func(ctx context.Context) (string, error) {
			if _, err := osStat(path); err != nil {
				return "", fmt.Errorf("configured exec_path unusable: %w", err)
			}
			return path, nil
		},
	}
}

// StrategiesFromConfig builds the ordered strategy list. A configured
// exec_path is always tried first.
func StrategiesFromConfig(cfg config.BrowserConfig, logger *zap.Logger) ([]ExecStrategy, error) {
	var out []ExecStrategy
	if cfg.ExecPath != "" {
		out = append(out, ExplicitStrategy(cfg.ExecPath))
	}
	for _, name := range cfg.ExecStrategies {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case StrategyDownload:
			out = append(out, DownloadStrategy(logger))
		case StrategyPath:
			out = append(out, PathStrategy())
		case StrategyKnown:
			out = append(out, KnownPathsStrategy())
		default:
			return nil, fmt.Errorf("unknown exec strategy %q", name)
		}
	}
	return out, nil
}
