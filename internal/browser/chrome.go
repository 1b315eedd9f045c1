package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/browser/stealth"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/cookies"
)

const isolatedWorldName = "sessiongate"

// ChromeLauncher starts Chrome through chromedp.
type ChromeLauncher struct {
	logger        *zap.Logger
	persona       stealth.Persona
	launchTimeout time.Duration
	pollInterval  time.Duration
}

// NewChromeLauncher creates a launcher using the browser settings in cfg.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	launchTimeout := cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &ChromeLauncher{
		logger:        logger.Named("chrome"),
		persona:       stealth.DefaultPersona.WithUserAgent(cfg.UserAgent),
		launchTimeout: launchTimeout,
		pollInterval:  poll,
	}
}

// launchFlags assembles the command line flags for one stealthy, isolated
// browser process. A false value removes a flag set by the defaults.
func launchFlags(opts LaunchOptions) map[string]interface{} {
	flags := map[string]interface{}{
		// Set by chromedp's defaults and visible to bot checks.
		"enable-automation":      false,
		"headless":               opts.Headless,
		"no-sandbox":             true,
		"disable-gpu":            true,
		"disable-dev-shm-usage":  true,
		"disable-blink-features": "AutomationControlled",
		"disable-extensions":     true,
		// Keeps cross-origin login iframes in the page's own target.
		"disable-features": "IsolateOrigins,site-per-process",
		"window-size":      fmt.Sprintf("%d,%d", opts.WindowWidth, opts.WindowHeight),
	}
	if opts.ProfileDir != "" {
		flags["user-data-dir"] = opts.ProfileDir
	}
	if opts.UserAgent != "" {
		flags["user-agent"] = opts.UserAgent
	}
	if runtime.GOOS == "linux" {
		flags["disable-setuid-sandbox"] = true
	}

	for _, arg := range opts.ExtraArgs {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

func allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags := launchFlags(opts)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, chromedp.Flag(name, flags[name]))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// Launch starts a browser process and confirms it responds before returning
// its first tab. The process lives until the returned Page is closed.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = l.persona.UserAgent
	}
	persona := l.persona.WithUserAgent(opts.UserAgent)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	p := &chromePage{
		tabCtx:       tabCtx,
		closeFns:     []context.CancelFunc{tabCancel, allocCancel},
		logger:       l.logger,
		pollInterval: l.pollInterval,
	}

	// The first Run allocates the browser, so it must not carry a deadline of
	// its own; a timeout there would kill the process once it fires.
	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(tabCtx, stealth.Apply(persona, l.logger), chromedp.Navigate("about:blank"))
	}()

	timer := time.NewTimer(l.launchTimeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("browser failed to start or respond: %w", err)
		}
	case <-timer.C:
		p.Close()
		return nil, fmt.Errorf("browser did not respond within %s", l.launchTimeout)
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}

	l.logger.Debug("Browser launched and responsive.", zap.String("exec_path", opts.ExecPath))
	return p, nil
}

// chromePage implements Page on one chromedp tab.
type chromePage struct {
	tabCtx       context.Context
	closeFns     []context.CancelFunc
	closeOnce    sync.Once
	logger       *zap.Logger
	pollInterval time.Duration

	mu sync.Mutex
	// world is the isolated execution context of the entered iframe; zero means the top document.
	world cdpruntime.ExecutionContextID
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (p *chromePage) currentWorld() cdpruntime.ExecutionContextID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.world
}

func (p *chromePage) setWorld(id cdpruntime.ExecutionContextID) {
	p.mu.Lock()
	p.world = id
	p.mu.Unlock()
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.setWorld(0)
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Reload(ctx context.Context) error {
	p.setWorld(0)
	return p.run(ctx, chromedp.Reload())
}

func (p *chromePage) EnterFrame(ctx context.Context, name string) (FrameLookup, error) {
	var frameID cdp.FrameID
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read frame tree: %w", err)
		}
		if id, ok := findFrame(tree, name); ok {
			frameID = id
			return nil
		}
		// Frames addressed by id rather than name do not show up by name in the tree.
		id, err := frameIDByElement(ctx, name)
		if err != nil {
			return err
		}
		frameID = id
		return nil
	}))
	if err != nil {
		return FrameError, err
	}
	if frameID == "" {
		return FrameNotFound, nil
	}

	var world cdpruntime.ExecutionContextID
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := page.CreateIsolatedWorld(frameID).
			WithWorldName(isolatedWorldName).
			WithGrantUniveralAccess(true).
			Do(ctx)
		world = id
		return err
	}))
	if err != nil {
		return FrameError, fmt.Errorf("failed to create execution context for frame %q: %w", name, err)
	}
	p.setWorld(world)
	return FrameFound, nil
}

func findFrame(tree *page.FrameTree, name string) (cdp.FrameID, bool) {
	if tree == nil {
		return "", false
	}
	if tree.Frame != nil && tree.Frame.ParentID != "" && tree.Frame.Name == name {
		return tree.Frame.ID, true
	}
	for _, child := range tree.ChildFrames {
		if id, ok := findFrame(child, name); ok {
			return id, true
		}
	}
	return "", false
}

func frameIDByElement(ctx context.Context, name string) (cdp.FrameID, error) {
	lit, _ := json.Marshal(name)
	expr := fmt.Sprintf(`document.querySelector('iframe[name=' + CSS.escape(%[1]s) + '], iframe#' + CSS.escape(%[1]s))`, lit)
	obj, exc, err := cdpruntime.Evaluate(expr).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query iframe element: %w", err)
	}
	if exc != nil {
		return "", exceptionError(exc)
	}
	if obj == nil || obj.ObjectID == "" {
		return "", nil
	}
	node, err := dom.DescribeNode().WithObjectID(obj.ObjectID).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to describe iframe element: %w", err)
	}
	return node.FrameID, nil
}

func (p *chromePage) LeaveFrame() {
	p.setWorld(0)
}

func (p *chromePage) Evaluate(ctx context.Context, fn string, out interface{}, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode script arguments: %w", err)
	}
	expr := fmt.Sprintf("(%s).apply(null, %s)", fn, encoded)
	world := p.currentWorld()

	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdpruntime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)
		if world != 0 {
			params = params.WithContextID(world)
		}
		res, exc, err := params.Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		if err := json.Unmarshal([]byte(res.Value), out); err != nil {
			return fmt.Errorf("failed to decode script result: %w", err)
		}
		return nil
	}))
}

func exceptionError(exc *cdpruntime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("script exception: %s", msg)
}

// poll runs check every pollInterval until it reports done or ctx ends.
func (p *chromePage) poll(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) WaitForClass(ctx context.Context, class string) (ElementRef, error) {
	lit, _ := json.Marshal(class)
	expr := fmt.Sprintf("document.getElementsByClassName(%s)[0]", lit)
	world := p.currentWorld()

	var ref ElementRef
	err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		var id cdpruntime.RemoteObjectID
		err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			params := cdpruntime.Evaluate(expr)
			if world != 0 {
				params = params.WithContextID(world)
			}
			obj, exc, err := params.Do(ctx)
			if err != nil || exc != nil || obj == nil {
				// Mid-navigation evaluations fail while the old context is torn down.
				return nil
			}
			id = obj.ObjectID
			return nil
		}))
		if err != nil {
			return false, err
		}
		if id == "" {
			return false, nil
		}
		ref = ElementRef(id)
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("waiting for .%s: %w", class, err)
	}
	return ref, nil
}

func (p *chromePage) WaitStale(ctx context.Context, ref ElementRef) error {
	err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		stale := false
		err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			res, exc, err := cdpruntime.CallFunctionOn("function() { return this.isConnected; }").
				WithObjectID(cdpruntime.RemoteObjectID(ref)).
				WithReturnByValue(true).
				Do(ctx)
			if err != nil {
				stale, err = staleOnCallError(ctx, err)
				return err
			}
			if exc != nil {
				stale = true
				return nil
			}
			var connected bool
			if res != nil && len(res.Value) > 0 {
				_ = json.Unmarshal([]byte(res.Value), &connected)
			}
			stale = !connected
			return nil
		}))
		return stale, err
	})
	if err != nil {
		return fmt.Errorf("waiting for element to detach: %w", err)
	}
	return nil
}

// staleOnCallError classifies a failed isConnected call. Cancellation and
// timeouts are returned as errors. Any other failure means the object's
// execution context was destroyed with the old document.
func staleOnCallError(ctx context.Context, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, err
	}
	return true, nil
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Source(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := cdpruntime.Evaluate("document.documentElement ? document.documentElement.outerHTML : ''").
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		return json.Unmarshal([]byte(res.Value), &html)
	}))
	if err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) Cookies(ctx context.Context) ([]cookies.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]cookies.Cookie, 0, len(raw))
	for _, c := range raw {
		ck := cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			ck.Expiry = int64(c.Expires)
		}
		out = append(out, ck)
	}
	return out, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cs []cookies.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cs {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expiry > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(c.Expiry, 0))
				params = params.WithExpires(&exp)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		for _, cancel := range p.closeFns {
			cancel()
		}
	})
	if err := p.tabCtx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
