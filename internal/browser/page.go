package browser

import (
	"context"

	"github.com/xkilldash9x/sessiongate/internal/cookies"
)

// FrameLookup is the result of trying to enter a named iframe.
type FrameLookup int

const (
	// FrameFound means the page is now scoped to the iframe document.
	FrameFound FrameLookup = iota
	// FrameNotFound means no iframe has that name; the page stays on the top document.
	FrameNotFound
	// FrameError means the lookup itself failed; the page stays on the top document.
	FrameError
)

func (f FrameLookup) String() string {
	switch f {
	case FrameFound:
		return "found"
	case FrameNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// ElementRef is an opaque handle on a DOM node, used to detect when the node
// is detached by a page reload.
type ElementRef string

// Page is the browser surface the acquirer drives. All methods act on the
// current document scope, which EnterFrame and LeaveFrame switch.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// EnterFrame scopes later calls to the iframe called name. Only FrameFound
	// changes scope.
	EnterFrame(ctx context.Context, name string) (FrameLookup, error)
	LeaveFrame()
	// Evaluate calls the JavaScript function expression fn with JSON-encoded
	// args and decodes its return value into out, which may be nil.
	Evaluate(ctx context.Context, fn string, out interface{}, args ...interface{}) error
	// WaitForClass blocks until an element with the class exists.
	WaitForClass(ctx context.Context, class string) (ElementRef, error)
	// WaitStale blocks until ref is no longer attached to the document.
	WaitStale(ctx context.Context, ref ElementRef) error
	Location(ctx context.Context) (string, error)
	Source(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]cookies.Cookie, error)
	SetCookies(ctx context.Context, cs []cookies.Cookie) error
	// Close terminates the browser process. It is safe to call more than once.
	Close() error
}

// LaunchOptions describes one browser process.
type LaunchOptions struct {
	ExecPath     string
	ProfileDir   string
	Headless     bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	ExtraArgs    []string
}

// Launcher starts a browser and returns its first tab.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
}
