package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sessiongate/internal/config"
	"github.com/xkilldash9x/sessiongate/internal/gateway"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu        sync.Mutex
	session   gateway.Result
	refresh   gateway.Result
	emails    []string
	passwords []string
	refreshes int
}

func (f *fakeGateway) GetSession(ctx context.Context, email, password string) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	f.passwords = append(f.passwords, password)
	return f.session
}

func (f *fakeGateway) RefreshCookie(ctx context.Context) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refresh
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var body SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func serve(t *testing.T, gw SessionGateway, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	s := New(config.ServerConfig{RequestTimeout: time.Minute}, gw, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	rec := serve(t, &fakeGateway{}, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"sessiongate is running"}`, rec.Body.String())
}

func TestGetCookie(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		gw := &fakeGateway{session: gateway.Result{
			Status:  gateway.StatusSuccess,
			Cart:    "c1",
			Cookies: map[string]string{"cart": "c1", "_secure_session_id": "s1"},
		}}
		req := httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"a@example.com","password":"pw"}`))
		rec := serve(t, gw, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"success","cookie":"c1","cookies":{"cart":"c1","_secure_session_id":"s1"}}`, rec.Body.String())
		assert.Equal(t, []string{"a@example.com"}, gw.emails)
		assert.Equal(t, []string{"pw"}, gw.passwords)
	})

	t.Run("gateway failure is still 200", func(t *testing.T) {
		gw := &fakeGateway{session: gateway.Result{Status: gateway.StatusFail, Msg: "login failed"}}
		req := httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"a@example.com","password":"pw"}`))
		rec := serve(t, gw, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"fail","msg":"login failed"}`, rec.Body.String())
	})

	t.Run("malformed body is 422", func(t *testing.T) {
		gw := &fakeGateway{}
		rec := serve(t, gw, httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":`)))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, gateway.StatusFail, body.Status)
		assert.Contains(t, body.Msg, "Invalid request body")
		assert.Empty(t, gw.emails)
	})

	t.Run("missing field is 422", func(t *testing.T) {
		gw := &fakeGateway{}
		rec := serve(t, gw, httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"a@example.com"}`)))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, gateway.StatusFail, decode(t, rec).Status)
		assert.Empty(t, gw.emails)
	})

	t.Run("null field is 422", func(t *testing.T) {
		gw := &fakeGateway{}
		rec := serve(t, gw, httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"a@example.com","password":null}`)))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Empty(t, gw.emails)
	})

	t.Run("empty credentials are a gateway failure", func(t *testing.T) {
		gw := &fakeGateway{session: gateway.Result{Status: gateway.StatusFail, Msg: gateway.MsgMissingCred}}
		rec := serve(t, gw, httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"","password":""}`)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"fail","msg":"email and password are required"}`, rec.Body.String())
		require.Len(t, gw.emails, 1)
		assert.Equal(t, "", gw.emails[0])
		assert.Equal(t, "", gw.passwords[0])
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := serve(t, &fakeGateway{}, httptest.NewRequest(http.MethodGet, "/getCookie", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestUpdateCookie(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		gw := &fakeGateway{refresh: gateway.Result{Status: gateway.StatusFail, Msg: gateway.MsgNoSession}}
		rec := serve(t, gw, httptest.NewRequest(http.MethodGet, "/updateCookie", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"fail","msg":"No cookie stored. Plz login first."}`, rec.Body.String())
		assert.Equal(t, 1, gw.refreshes)
	})

	t.Run("success", func(t *testing.T) {
		gw := &fakeGateway{refresh: gateway.Result{Status: gateway.StatusSuccess, Cart: "c2", Cookies: map[string]string{"cart": "c2"}}}
		rec := serve(t, gw, httptest.NewRequest(http.MethodGet, "/updateCookie", nil))

		body := decode(t, rec)
		assert.Equal(t, "c2", body.Cookie)
		assert.Equal(t, map[string]string{"cart": "c2"}, body.Cookies)
	})
}

func TestRequestLoggerOmitsBody(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(config.ServerConfig{}, &fakeGateway{session: gateway.Result{Status: gateway.StatusFail, Msg: "x"}}, zap.New(core))

	req := httptest.NewRequest(http.MethodPost, "/getCookie", strings.NewReader(`{"email":"a@example.com","password":"hunter2"}`))
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/getCookie", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	for _, e := range logs.All() {
		for _, v := range e.ContextMap() {
			if str, ok := v.(string); ok {
				assert.NotContains(t, str, "hunter2")
			}
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(config.ServerConfig{ShutdownTimeout: time.Second}, &fakeGateway{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunReportsListenError(t *testing.T) {
	s := New(config.ServerConfig{Addr: "256.0.0.1:bad"}, &fakeGateway{}, zaptest.NewLogger(t))
	assert.Error(t, s.Run(context.Background()))
}
