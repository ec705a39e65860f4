package domain

import "context"

// RemoteModel is the "LLM backend" external interface from the configuration
// and external-interfaces contract: a callable that accepts a prompt and an
// opaque credential secret, and returns a text completion plus a token
// estimate. Rate-limit and auth failures must be distinguishable via the
// returned error (see the errors package's Classify).
type RemoteModel interface {
	// Name identifies the backend for logging and config lookup.
	Name() string
	// Complete sends prompt to the backend authenticated with secret and
	// returns the raw text completion and an estimated token count.
	Complete(ctx context.Context, secret string, prompt string) (text string, tokens int, err error)
}
