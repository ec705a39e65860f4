package remotemodel

import (
	"context"
	"fmt"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
)

// CredentialPeeker is the narrow slice of the Credential Pool a health
// probe needs: a secret to authenticate with, not the rotation/reporting
// machinery.
type CredentialPeeker interface {
	Acquire() (*domain.Credential, error)
}

// healthChecker is implemented by backends that can probe reachability
// without consuming a full completion. WebModel and Ollama's zero-value
// secret case are also checkers; the interface is satisfied structurally.
type healthChecker interface {
	Healthy(ctx context.Context, secret string) error
}

// Factory builds the configured domain.RemoteModel backend and adapts its
// optional health check into the orchestrator's HealthProber contract,
// which has no secret parameter (C1 is owned by the orchestrator, not by
// the backend). Adapted from the teacher's provider.Factory; simplified to
// a single selected-at-startup backend since this system's configuration
// names exactly one LLM backend, not a registry of simultaneously enabled
// ones.
type Factory struct {
	model   domain.RemoteModel
	checker healthChecker
	creds   CredentialPeeker
}

// NewFactory constructs the backend named by cfg.Backend.
func NewFactory(cfg config.LLMConfig, creds CredentialPeeker) (*Factory, error) {
	var model domain.RemoteModel
	switch cfg.Backend {
	case "openai":
		model = NewOpenAI(OpenAIConfig{APIBase: cfg.APIBase, Model: cfg.Model})
	case "ollama":
		model = NewOllama(OllamaConfig{APIBase: cfg.APIBase, Model: cfg.Model})
	case "chatgpt-web", "gemini-web":
		wm, err := NewWebModel(WebModelConfig{Name: cfg.Backend, ProfileDir: cfg.ProfileDir})
		if err != nil {
			return nil, err
		}
		model = wm
	default:
		return nil, fmt.Errorf("remotemodel: unknown backend %q", cfg.Backend)
	}

	checker, _ := model.(healthChecker)
	return &Factory{model: model, checker: checker, creds: creds}, nil
}

// Model returns the constructed backend for wiring into the LLM Client.
func (f *Factory) Model() domain.RemoteModel { return f.model }

// Healthy implements orchestrator.HealthProber: acquires a credential and
// delegates to the backend's own probe, if it has one.
func (f *Factory) Healthy(ctx context.Context) error {
	if f.checker == nil {
		return nil
	}
	cred, err := f.creds.Acquire()
	if err != nil {
		return fmt.Errorf("remotemodel: acquire credential for health probe: %w", err)
	}
	return f.checker.Healthy(ctx, cred.OpaqueSecret)
}
