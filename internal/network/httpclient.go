// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/sessiongate/internal/config"
)

// Default transport settings for the storefront client.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 20 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 4
	DefaultIdleConnTimeout       = 90 * time.Second
)

// Doer is the part of *http.Client the gateway depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors       bool
	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ForceHTTP2            bool
	ProxyURL              *url.URL
	Logger                *zap.Logger
}

// Client wraps http.Client. The caller must close every response body.
type Client struct {
	*http.Client
}

// NewDefaultClientConfig returns settings suitable for a handful of calls to one storefront.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
		Logger:                zap.NewNop(),
	}
}

// ClientConfigFrom maps the network section of the application config onto a ClientConfig.
func ClientConfigFrom(cfg config.NetworkConfig, logger *zap.Logger) (*ClientConfig, error) {
	cc := NewDefaultClientConfig()
	if cfg.Timeout > 0 {
		cc.RequestTimeout = cfg.Timeout
	}
	cc.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid network.proxy %q", cfg.Proxy)
		}
		cc.ProxyURL = u
	}
	if logger != nil {
		cc.Logger = logger.Named("httpclient")
	}
	return cc, nil
}

// NewHTTPTransport creates an http.Transport from cfg.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:       configureTLS(cfg),
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
		Proxy:                 http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else if len(transport.TLSClientConfig.NextProtos) == 0 {
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// NewClient creates a client that never follows redirects, so Set-Cookie
// headers on a redirect response reach the caller.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	return &Client{Client: &http.Client{
		Transport: NewHTTPTransport(cfg),
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func configureTLS(cfg *ClientConfig) *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if cfg.IgnoreTLSErrors {
		cfg.Logger.Warn("TLS certificate verification is disabled for storefront requests.")
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig
}
