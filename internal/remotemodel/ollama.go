package remotemodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama implements domain.RemoteModel against a local (or self-hosted)
// Ollama server. Ollama has no notion of an API key, so the secret
// parameter on Complete is accepted (to satisfy the interface) and ignored.
type Ollama struct {
	apiBase string
	model   string
	client  *http.Client
}

type OllamaConfig struct {
	APIBase string
	Model   string
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	return &Ollama{
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  sharedHTTPClient(120 * time.Second),
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
}

// Complete posts a single-message chat to Ollama's /api/chat. Ollama reports
// no standard token-usage field in non-streaming responses, so the token
// count is estimated from response length.
func (o *Ollama) Complete(ctx context.Context, secret string, prompt string) (string, int, error) {
	body := ollamaRequest{
		Model:    o.model,
		Messages: []ollamaMsg{{Role: "user", Content: prompt}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/ollama: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/ollama: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/ollama: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return "", 0, fmt.Errorf("remotemodel/ollama: decode: %w", err)
	}

	return ollamaResp.Message.Content, estimateTokens(ollamaResp.Message.Content), nil
}

// Healthy checks that the Ollama server is reachable.
func (o *Ollama) Healthy(ctx context.Context, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("remotemodel/ollama: not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remotemodel/ollama: returned %d", resp.StatusCode)
	}
	return nil
}
