package browser

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/xkilldash9x/sessiongate/internal/cookies"
)

// fakePage is a scriptable Page. Zero values behave like a storefront that
// accepts the login and lands on /account.
type fakePage struct {
	mu sync.Mutex

	location    string
	source      string
	frameLookup FrameLookup
	frameErr    error
	evalErr     error
	evalPanic   interface{}
	waitErr     error
	staleErr    error
	cookies     []cookies.Cookie
	cookiesErr  error
	navErr      error
	closeErr    error

	navigations []string
	evaluations []string
	evalArgs    [][]interface{}
	setCookies  []cookies.Cookie
	reloads     int
	closed      int
	inFrame     bool
}

func newFakePage() *fakePage {
	return &fakePage{
		location:    "https://shop.example.com/account",
		source:      "<html><body>My account</body></html>",
		frameLookup: FrameFound,
		cookies: []cookies.Cookie{
			{Name: "cart", Value: "cart-token", Domain: "shop.example.com", Path: "/"},
			{Name: "_secure_session_id", Value: "sess", Domain: "shop.example.com", Path: "/", Secure: true},
		},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	p.inFrame = false
	return p.navErr
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return nil
}

func (p *fakePage) EnterFrame(ctx context.Context, name string) (FrameLookup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFrame = p.frameLookup == FrameFound
	return p.frameLookup, p.frameErr
}

func (p *fakePage) LeaveFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFrame = false
}

func (p *fakePage) Evaluate(ctx context.Context, fn string, out interface{}, args ...interface{}) error {
	p.mu.Lock()
	p.evaluations = append(p.evaluations, fn)
	p.evalArgs = append(p.evalArgs, args)
	evalErr, evalPanic := p.evalErr, p.evalPanic
	p.mu.Unlock()

	if evalPanic != nil {
		panic(evalPanic)
	}
	if evalErr != nil {
		return evalErr
	}
	if out != nil {
		return json.Unmarshal([]byte("true"), out)
	}
	return nil
}

func (p *fakePage) WaitForClass(ctx context.Context, class string) (ElementRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr != nil {
		return "", p.waitErr
	}
	return ElementRef("obj-" + class), nil
}

func (p *fakePage) WaitStale(ctx context.Context, ref ElementRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staleErr
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) Source(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]cookies.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cookiesErr != nil {
		return nil, p.cookiesErr
	}
	return append([]cookies.Cookie(nil), p.cookies...), nil
}

func (p *fakePage) SetCookies(ctx context.Context, cs []cookies.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCookies = append(p.setCookies, cs...)
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

// fakeLauncher hands out pages from newPage, recording every launch.
type fakeLauncher struct {
	mu       sync.Mutex
	newPage  func() *fakePage
	err      error
	launches []LaunchOptions
	pages    []*fakePage
}

func (l *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.err != nil {
		return nil, l.err
	}
	var p *fakePage
	if l.newPage != nil {
		p = l.newPage()
	} else {
		p = newFakePage()
	}
	l.pages = append(l.pages, p)
	return p, nil
}

func (l *fakeLauncher) lastPage() *fakePage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

func staticStrategy(name, path string) ExecStrategy {
	return ExecStrategy{Name: name, Resolve: func(context.Context) (string, error) { return path, nil }}
}

func failingStrategy(name string) ExecStrategy {
	return ExecStrategy{Name: name, Resolve: func(context.Context) (string, error) {
		return "", errors.New(name + " unavailable")
	}}
}
