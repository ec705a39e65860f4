package remotemodel

import (
	"context"
	"fmt"

	"chatrelay/internal/browser"
)

// WebModel implements domain.RemoteModel by driving a web chat UI
// (chatgpt.com, gemini.google.com) through a headless browser. These
// backends have no API credential of their own — the signed-in browser
// profile is the credential — so Complete's secret parameter is accepted
// and ignored, and C1's credential rotation is effectively a no-op for
// this backend (a single opaque placeholder secret should be configured).
type WebModel struct {
	name      string
	bridge    *browser.Bridge
	selectors browser.SelectorSet
}

type WebModelConfig struct {
	Name       string // "chatgpt-web" | "gemini-web"
	ProfileDir string
}

// NewWebModel builds a browser-driven backend for the named web UI.
func NewWebModel(cfg WebModelConfig) (*WebModel, error) {
	var sel browser.SelectorSet
	switch cfg.Name {
	case "chatgpt-web":
		sel = browser.ChatGPTSelectors()
	case "gemini-web":
		sel = browser.GeminiSelectors()
	default:
		return nil, fmt.Errorf("remotemodel: unknown web model %q", cfg.Name)
	}
	return &WebModel{
		name: cfg.Name,
		bridge: browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.ProfileDir,
			Headless:   true,
		}),
		selectors: sel,
	}, nil
}

func (w *WebModel) Name() string { return w.name }

// Complete drives the browser to submit prompt and scrape the reply. There
// is no token-usage reporting from a web UI, so the count is estimated.
func (w *WebModel) Complete(ctx context.Context, secret string, prompt string) (string, int, error) {
	text, err := w.bridge.SendAndReceive(ctx, w.selectors, prompt)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/%s: %w", w.name, err)
	}
	return text, estimateTokens(text), nil
}

// Healthy reports whether the browser bridge was constructed successfully.
// A real reachability check would require opening a page, which is too
// expensive to run on every initialize(); Login is the operator's tool for
// establishing the signed-in session out of band.
func (w *WebModel) Healthy(ctx context.Context, secret string) error {
	if w.bridge == nil {
		return fmt.Errorf("remotemodel/%s: browser bridge not initialized", w.name)
	}
	return nil
}

// Login opens a visible browser for the operator to sign in manually; the
// session cookies persist in the configured profile directory afterward.
func (w *WebModel) Login(ctx context.Context) error {
	return w.bridge.Login(ctx, w.selectors.URL)
}
