// Package remotemodel provides concrete domain.RemoteModel (the LLM backend
// external interface, C2's collaborator) implementations: an OpenAI-compatible
// HTTP backend, a local Ollama backend, and a browser-driven backend for
// web-only chat UIs. A Factory selects and caches one by config key and
// doubles as the Agent Orchestrator's HealthProber.
package remotemodel

import (
	"net"
	"net/http"
	"time"
)

// sharedHTTPClient returns an HTTP client tuned for connection reuse across
// many short-lived completion calls.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// estimateTokens is a rough, backend-agnostic fallback for providers (Ollama,
// browser-driven) that don't report a usage count: ~4 characters per token.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
