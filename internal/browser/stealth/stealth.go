package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is a desktop Chrome on Windows.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// WithUserAgent returns a copy of p using ua, or p unchanged when ua is empty.
func (p Persona) WithUserAgent(ua string) Persona {
	if ua != "" {
		p.UserAgent = ua
	}
	return p
}

// AcceptLanguage renders the persona's languages as an Accept-Language value.
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// bootstrap seeds the values evasions.js reads before it runs.
func (p Persona) bootstrap() string {
	data, _ := json.Marshal(map[string]interface{}{
		"platform":  p.Platform,
		"languages": p.Languages,
	})
	return fmt.Sprintf("window.__sessiongatePersona = %s;\n%s", data, evasionsScript)
}

// Apply returns the CDP actions that make a fresh tab look like a user-operated
// browser. Run it before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(p.Platform).WithAcceptLanguage(p.AcceptLanguage()),
		// AddScriptToEvaluateOnNewDocument returns an identifier as well as an error.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.bootstrap()).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}))
	}
	return tasks
}
