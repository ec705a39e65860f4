package remotemodel

import (
	"context"
	"errors"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
)

// fakeCredentialPeeker implements CredentialPeeker for testing.
type fakeCredentialPeeker struct {
	cred *domain.Credential
	err  error
}

func (f *fakeCredentialPeeker) Acquire() (*domain.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

func TestNewFactory_SelectsBackendByName(t *testing.T) {
	cases := []struct {
		backend string
		want    string
	}{
		{"openai", "openai"},
		{"ollama", "ollama"},
		{"chatgpt-web", "chatgpt-web"},
		{"gemini-web", "gemini-web"},
	}
	for _, c := range cases {
		f, err := NewFactory(config.LLMConfig{Backend: c.backend}, &fakeCredentialPeeker{})
		if err != nil {
			t.Fatalf("backend %q: unexpected error: %v", c.backend, err)
		}
		if f.Model().Name() != c.want {
			t.Errorf("backend %q: expected model name %q, got %q", c.backend, c.want, f.Model().Name())
		}
	}
}

func TestNewFactory_RejectsUnknownBackend(t *testing.T) {
	_, err := NewFactory(config.LLMConfig{Backend: "claude"}, &fakeCredentialPeeker{})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFactory_HealthyAcquiresCredentialAndDelegates(t *testing.T) {
	f, err := NewFactory(config.LLMConfig{Backend: "ollama", APIBase: "http://127.0.0.1:1"}, &fakeCredentialPeeker{
		cred: &domain.Credential{OpaqueSecret: "unused"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Healthy(context.Background()); err == nil {
		t.Fatal("expected error for unreachable ollama server")
	}
}

func TestFactory_HealthySurfacesCredentialAcquireError(t *testing.T) {
	f, err := NewFactory(config.LLMConfig{Backend: "ollama"}, &fakeCredentialPeeker{
		err: errors.New("pool exhausted"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Healthy(context.Background()); err == nil {
		t.Fatal("expected error when credential acquisition fails")
	}
}

func TestFactory_HealthyOKWhenBackendReachable(t *testing.T) {
	// webmodel's Healthy always succeeds once constructed, regardless of
	// credential, since the browser profile is the credential.
	f, err := NewFactory(config.LLMConfig{Backend: "chatgpt-web"}, &fakeCredentialPeeker{
		cred: &domain.Credential{OpaqueSecret: "placeholder"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}
