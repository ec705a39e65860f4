package remotemodel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllama_CompleteEstimatesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"a short reply"},"done":true}`))
	}))
	defer srv.Close()

	model := NewOllama(OllamaConfig{APIBase: srv.URL, Model: "llama3.1:8b"})
	text, tokens, err := model.Complete(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "a short reply" {
		t.Fatalf("expected 'a short reply', got %q", text)
	}
	if tokens != estimateTokens("a short reply") {
		t.Fatalf("expected estimated tokens %d, got %d", estimateTokens("a short reply"), tokens)
	}
}

func TestOllama_CompleteSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	model := NewOllama(OllamaConfig{APIBase: srv.URL})
	_, _, err := model.Complete(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOllama_HealthyChecksTagsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	model := NewOllama(OllamaConfig{APIBase: srv.URL})
	if err := model.Healthy(context.Background(), ""); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestOllama_HealthyFailsWhenUnreachable(t *testing.T) {
	model := NewOllama(OllamaConfig{APIBase: "http://127.0.0.1:1"})
	if err := model.Healthy(context.Background(), ""); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"this is sixteen ch", 4},
	}
	for _, c := range cases {
		if got := estimateTokens(c.in); got != c.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
