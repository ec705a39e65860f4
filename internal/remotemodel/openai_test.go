package remotemodel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAI_CompleteReturnsContentAndTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("expected Authorization 'Bearer sk-test', got %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	model := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Model: "gpt-4o-mini"})
	text, tokens, err := model.Complete(context.Background(), "sk-test", "hi")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected 'hello there', got %q", text)
	}
	if tokens != 12 {
		t.Fatalf("expected 12 tokens, got %d", tokens)
	}
}

func TestOpenAI_CompleteSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	model := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	_, _, err := model.Complete(context.Background(), "sk-test", "hi")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected error to mention 429, got: %v", err)
	}
}

func TestOpenAI_HealthyChecksModelsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("expected /models, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	model := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	if err := model.Healthy(context.Background(), "sk-test"); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestOpenAI_HealthyFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	model := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	if err := model.Healthy(context.Background(), "bad-key"); err == nil {
		t.Fatal("expected error for 401 response")
	}
}
