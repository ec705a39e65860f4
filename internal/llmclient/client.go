// Package llmclient implements the LLM Client (C2): builds prompts, invokes
// the remote model through the credential pool, parses the structured
// reply, and retries with backoff and credential rotation.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"chatrelay/internal/assembler"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/persona"
)

const maxAttempts = 3

// CredentialSource is the narrow slice of the Credential Pool (C1) that C2
// needs.
type CredentialSource interface {
	Acquire() (*domain.Credential, error)
	ReportOutcome(secret string, kind domain.ErrorKind)
}

// Client builds prompts and resolves LLMDecisions via a domain.RemoteModel.
type Client struct {
	model      domain.RemoteModel
	credential CredentialSource
	persona    persona.Persona
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a Client.
func New(model domain.RemoteModel, credential CredentialSource, p persona.Persona, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{model: model, credential: credential, persona: p, logger: logger, now: time.Now}
}

// ProcessMessages implements queue.BatchProcessor by assembling the batch
// and generating a decision from it. mainContent/structuredContext building
// happens via the assembler passed at construction time.
type assemblerFn func(contextID string, snapshot []domain.QueuedMessage) (string, assembler.StructuredContext)

// Adapter wires an Assembler into the queue.BatchProcessor shape C4 expects,
// then delegates to Client.Generate.
type Adapter struct {
	client      *Client
	assemble    assemblerFn
	commitReply func(contextID, content string)
	contextID   func([]domain.QueuedMessage) string
}

// NewAdapter builds an Adapter bridging C5 (assembler) and C2 (this client)
// behind the queue.BatchProcessor interface.
func NewAdapter(client *Client, a *assembler.Assembler) *Adapter {
	return &Adapter{
		client:      client,
		assemble:    a.Assemble,
		commitReply: a.CommitReply,
		contextID: func(snapshot []domain.QueuedMessage) string {
			if len(snapshot) == 0 {
				return ""
			}
			return snapshot[0].ContextID()
		},
	}
}

// ProcessMessages implements queue.BatchProcessor.
func (a *Adapter) ProcessMessages(ctx context.Context, snapshot []domain.QueuedMessage) (domain.LLMDecision, error) {
	ctxID := a.contextID(snapshot)
	mainContent, sc := a.assemble(ctxID, snapshot)
	ids := make([]string, len(snapshot))
	for i, m := range snapshot {
		ids[i] = m.ID
	}
	decision, err := a.client.Generate(ctx, mainContent, sc)
	if err == nil {
		decision.CorrelatedInboundIDs = ids
		if decision.Kind == domain.DecisionReply && len(decision.Messages) > 0 {
			a.commitReply(ctxID, strings.Join(decision.Messages, "\n"))
		}
	}
	return decision, err
}

type replyEnvelope struct {
	Messages []string        `json:"messages"`
	Mentions map[string]bool `json:"mentions"`
	Thinking string          `json:"thinking"`
}

type noReplyEnvelope struct {
	Reason   string `json:"reason"`
	Thinking string `json:"thinking"`
}

// Generate runs the full C2 algorithm: build prompt, acquire credential,
// call the model, parse the response, retrying on transient failure with
// credential rotation and on a malformed response with one reformat pass.
func (c *Client) Generate(ctx context.Context, mainContent string, sc assembler.StructuredContext) (domain.LLMDecision, error) {
	prompt := c.buildPrompt(mainContent, sc)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffWithJitter(attempt)
			select {
			case <-ctx.Done():
				return domain.LLMDecision{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		cred, err := c.credential.Acquire()
		if err != nil {
			lastErr = err
			continue
		}

		callStart := c.now()
		text, tokens, err := c.model.Complete(ctx, cred.OpaqueSecret, prompt)
		metrics.LLMRequestsTotal.Inc()
		metrics.LLMLatency.Observe(c.now().Sub(callStart).Seconds())
		if err != nil {
			classified := domain.Classify(err, 0, "")
			c.credential.ReportOutcome(cred.OpaqueSecret, classified.Kind)
			lastErr = classified
			c.logger.Warn("llmclient: call failed", "attempt", attempt, "kind", classified.Kind.String(), "error", err)
			continue
		}
		c.credential.ReportOutcome(cred.OpaqueSecret, domain.KindUnknown)

		decision, parseErr := c.parse(text)
		if parseErr == nil {
			decision.TokensUsed = tokens
			return decision, nil
		}

		c.logger.Warn("llmclient: parse failed, attempting one reformat retry", "error", parseErr)
		reformatPrompt := prompt + "\n\nYour previous reply was not valid JSON:\n" + text +
			"\n\nReformat your reply as valid JSON matching the required shape. Return only JSON."
		reformatStart := c.now()
		reformatted, reformatTokens, err := c.model.Complete(ctx, cred.OpaqueSecret, reformatPrompt)
		metrics.LLMRequestsTotal.Inc()
		metrics.LLMLatency.Observe(c.now().Sub(reformatStart).Seconds())
		if err == nil {
			if decision2, err2 := c.parse(reformatted); err2 == nil {
				decision2.TokensUsed = tokens + reformatTokens
				return decision2, nil
			}
		}

		return domain.LLMDecision{
			Kind:       domain.DecisionReply,
			Messages:   []string{strings.TrimSpace(text)},
			Thinking:   "format fallback",
			TokensUsed: tokens,
		}, nil
	}

	return domain.LLMDecision{}, fmt.Errorf("llmclient: exhausted %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) buildPrompt(mainContent string, sc assembler.StructuredContext) string {
	ctxJSON, _ := json.Marshal(sc)
	var b strings.Builder
	b.WriteString(c.persona.Block())
	b.WriteString("\nConversation context:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nMost recent message to consider:\n")
	b.WriteString(mainContent)
	b.WriteString("\n\nReply with JSON only, no prose, no code fences. Use exactly one of these shapes:\n")
	b.WriteString(`{"messages": ["..."], "mentions": {"senderId": true}, "thinking": "..."}`)
	b.WriteString(" — to reply, or —\n")
	b.WriteString(`{"reason": "...", "thinking": "..."}`)
	b.WriteString(" — to stay silent.\n")
	return b.String()
}

// parse strips code fences and decodes the JSON envelope, projecting to
// the appropriate LLMDecision variant.
func (c *Client) parse(raw string) (domain.LLMDecision, error) {
	text := stripCodeFences(raw)

	var reply replyEnvelope
	if err := json.Unmarshal([]byte(text), &reply); err == nil && len(reply.Messages) > 0 {
		return domain.LLMDecision{
			Kind:     domain.DecisionReply,
			Messages: reply.Messages,
			Mentions: reply.Mentions,
			Thinking: reply.Thinking,
		}, nil
	}

	var noReply noReplyEnvelope
	if err := json.Unmarshal([]byte(text), &noReply); err == nil && noReply.Reason != "" {
		return domain.LLMDecision{
			Kind:     domain.DecisionNoReply,
			Reason:   noReply.Reason,
			Thinking: noReply.Thinking,
		}, nil
	}

	return domain.LLMDecision{}, fmt.Errorf("llmclient: response matched neither reply nor no_reply shape")
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return s
}

// backoffWithJitter implements min(base*2^(attempt-1) + uniform_jitter[0,1s], 10s).
func backoffWithJitter(attempt int) time.Duration {
	base := time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	total := d + jitter
	if total > 10*time.Second {
		return 10 * time.Second
	}
	return total
}
