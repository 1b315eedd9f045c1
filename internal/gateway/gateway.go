package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/sessiongate/internal/browser"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/cookies"
	"github.com/xkilldash9x/sessiongate/internal/network"
	"github.com/xkilldash9x/sessiongate/internal/store"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Messages returned to callers.
const (
	MsgNoSession   = "No cookie stored. Plz login first."
	MsgBusy        = "session gateway busy"
	MsgRateLimited = "login rate limit exceeded, try again later"
	MsgMissingCred = "email and password are required"
)

const recordTimeout = 5 * time.Second

// Result is the outcome of a gateway operation. Cart and Cookies are only
// set on success; Msg only on failure.
type Result struct {
	Status  string
	Cart    string
	Cookies map[string]string
	Msg     string
}

// OK reports whether r is a success.
func (r Result) OK() bool { return r.Status == StatusSuccess }

func fail(msg string) Result { return Result{Status: StatusFail, Msg: msg} }

func success(cart string, jar cookies.Jar) Result {
	return Result{Status: StatusSuccess, Cart: cart, Cookies: map[string]string(jar)}
}

// SessionAcquirer runs a browser login. *browser.Acquirer satisfies it.
type SessionAcquirer interface {
	Login(ctx context.Context, storeURL, email, password string) browser.LoginOutcome
	Close()
}

// AcquirerFactory builds the acquirer on first use.
type AcquirerFactory func(ctx context.Context) (SessionAcquirer, error)

// Recorder persists attempt metadata. *store.Store satisfies it.
type Recorder interface {
	RecordAttempt(ctx context.Context, a store.Attempt) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRecorder enables the attempt ledger.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithState replaces the session slot, mainly for tests.
func WithState(s *State) Option {
	return func(g *Gateway) { g.state = s }
}

// Gateway owns the session slot and serializes every operation on it.
type Gateway struct {
	store   config.StoreConfig
	busy    string
	factory AcquirerFactory
	client  network.Doer
	logger  *zap.Logger

	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	recorder Recorder
	state    *State

	acqMu sync.Mutex
	acq   SessionAcquirer
}

// New creates a Gateway. The acquirer is not built until the first GetSession.
func New(storeCfg config.StoreConfig, serverCfg config.ServerConfig, factory AcquirerFactory, client network.Doer, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		store:   storeCfg,
		busy:    serverCfg.BusyMode,
		factory: factory,
		client:  client,
		logger:  logger.Named("gateway"),
		sem:     semaphore.NewWeighted(1),
		state:   &State{},
	}
	if serverCfg.LoginRate > 0 {
		burst := serverCfg.LoginBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(serverCfg.LoginRate/60.0), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State exposes the session slot.
func (g *Gateway) State() *State { return g.state }

// enter takes the gateway slot according to the busy mode.
func (g *Gateway) enter(ctx context.Context) (func(), *Result) {
	if g.busy == config.BusyModeReject {
		if !g.sem.TryAcquire(1) {
			r := fail(MsgBusy)
			return nil, &r
		}
	} else if err := g.sem.Acquire(ctx, 1); err != nil {
		r := fail(fmt.Sprintf("request abandoned while waiting: %v", err))
		return nil, &r
	}
	return func() { g.sem.Release(1) }, nil
}

// GetSession logs in through the browser and stores the resulting jar. The
// browser is closed afterwards. A failed attempt leaves the stored state alone.
func (g *Gateway) GetSession(ctx context.Context, email, password string) (res Result) {
	start := time.Now()
	defer func() { g.record(ctx, store.KindLogin, email, start, res) }()

	if email == "" || password == "" {
		return fail(MsgMissingCred)
	}
	if g.limiter != nil && !g.limiter.Allow() {
		g.logger.Warn("Login throttled.", zap.String("email", email))
		return fail(MsgRateLimited)
	}

	release, busy := g.enter(ctx)
	if busy != nil {
		return *busy
	}
	defer release()

	acq, err := g.acquirer(ctx)
	if err != nil {
		g.logger.Error("Session acquirer could not be created.", zap.Error(err))
		return fail(err.Error())
	}

	g.logger.Info("Acquiring session.", zap.String("email", email))
	outcome := acq.Login(ctx, "", email, password)
	acq.Close()

	if !outcome.Success {
		g.logger.Warn("Login failed.", zap.String("email", email), zap.String("reason", outcome.Reason), zap.String("url", outcome.URL))
		reason := outcome.Reason
		if reason == "" {
			reason = "login failed"
		}
		return fail(reason)
	}

	cart, jar := g.state.Replace(cookies.FromCookies(outcome.Cookies))
	if cart == "" {
		g.logger.Warn("Login succeeded but no cart cookie was issued.", zap.Strings("cookies", cookies.Names(outcome.Cookies)))
	}
	g.logger.Info("Session stored.", zap.Int("cookies", len(jar)))
	return success(cart, jar)
}

// RefreshCookie replays the cart note update with the stored cookies and
// overlays any Set-Cookie from the response, whatever its status. It makes
// no request when no cart token is stored. A 4xx or 5xx status is still
// reported as a failure once its cookies are merged.
func (g *Gateway) RefreshCookie(ctx context.Context) (res Result) {
	start := time.Now()
	defer func() { g.record(ctx, store.KindRefresh, "", start, res) }()

	release, busy := g.enter(ctx)
	if busy != nil {
		return *busy
	}
	defer release()

	cart, jar := g.state.Snapshot()
	if cart == "" {
		return fail(MsgNoSession)
	}
	jar[CartCookie] = cart

	set, err := g.postCartUpdate(ctx, jar)
	if len(set) > 0 {
		cart, jar = g.state.Merge(set)
	}
	if err != nil {
		g.logger.Warn("Cart refresh failed.", zap.Error(err), zap.Int("set_cookies", len(set)))
		return fail(err.Error())
	}

	g.logger.Info("Cart cookie refreshed.", zap.Int("set_cookies", len(set)))
	return success(cart, jar)
}

// postCartUpdate returns the response's Set-Cookie entries even when the
// status is an error, so the caller can still merge them.
func (g *Gateway) postCartUpdate(ctx context.Context, jar cookies.Jar) ([]*http.Cookie, error) {
	const op = "cart update"

	body := url.Values{"note": {""}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.store.UpdateURL(), strings.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cookie", jar.Header(g.store.StaticCookies))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	set := resp.Cookies()
	if resp.StatusCode >= http.StatusBadRequest {
		return set, &NetworkError{Op: op, Status: resp.StatusCode}
	}
	return set, nil
}

// acquirer returns the cached acquirer, building it on first use. A failed
// build is not cached.
func (g *Gateway) acquirer(ctx context.Context) (SessionAcquirer, error) {
	g.acqMu.Lock()
	defer g.acqMu.Unlock()
	if g.acq != nil {
		return g.acq, nil
	}
	if g.factory == nil {
		return nil, errors.New("no session acquirer configured")
	}
	acq, err := g.factory(ctx)
	if err != nil {
		return nil, err
	}
	g.acq = acq
	return acq, nil
}

// Close releases the acquirer, if one was built.
func (g *Gateway) Close() {
	g.acqMu.Lock()
	acq := g.acq
	g.acq = nil
	g.acqMu.Unlock()
	if acq != nil {
		acq.Close()
	}
}

func (g *Gateway) record(ctx context.Context, kind, email string, start time.Time, res Result) {
	if g.recorder == nil {
		return
	}
	// The request may already be gone; the ledger row is still wanted.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	a := store.Attempt{
		ID:        uuid.New(),
		Kind:      kind,
		Email:     email,
		Success:   res.OK(),
		Reason:    res.Msg,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err := g.recorder.RecordAttempt(rctx, a); err != nil {
		g.logger.Warn("Could not record attempt.", zap.String("kind", kind), zap.Error(err))
	}
}
