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

// OpenAI implements domain.RemoteModel against OpenAI-compatible chat
// completion endpoints. Unlike the teacher's Provider, the credential is
// supplied per call (by C1 via C2), not baked into the struct at
// construction, since this system rotates credentials across calls.
type OpenAI struct {
	apiBase string
	model   string
	client  *http.Client
}

type OpenAIConfig struct {
	APIBase string
	Model   string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  sharedHTTPClient(60 * time.Second),
	}
}

func (o *OpenAI) Name() string { return "openai" }

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends prompt as a single user message and returns the first
// choice's content plus OpenAI's reported total token usage.
func (o *OpenAI) Complete(ctx context.Context, secret string, prompt string) (string, int, error) {
	body := oaiRequest{
		Model:    o.model,
		Messages: []oaiMessage{{Role: "user", Content: prompt}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/openai: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/openai: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/openai: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("remotemodel/openai: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", 0, fmt.Errorf("remotemodel/openai: decode: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", 0, fmt.Errorf("remotemodel/openai: empty choices")
	}

	return oaiResp.Choices[0].Message.Content, oaiResp.Usage.TotalTokens, nil
}

// Healthy probes the models endpoint without consuming a completion. Used
// by Factory to satisfy the orchestrator's HealthProber.
func (o *OpenAI) Healthy(ctx context.Context, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("remotemodel/openai: not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remotemodel/openai: returned %d", resp.StatusCode)
	}
	return nil
}
