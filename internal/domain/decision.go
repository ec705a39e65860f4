package domain

// DecisionKind distinguishes the two LLMDecision variants.
type DecisionKind string

const (
	DecisionReply   DecisionKind = "reply"
	DecisionNoReply DecisionKind = "no_reply"
)

// LLMDecision is the parsed outcome of a C2 generate() call. It is a tagged
// variant: Kind selects which fields are meaningful.
type LLMDecision struct {
	Kind     DecisionKind
	Messages []string          // reply: non-empty sequence of strings
	Mentions map[string]bool   // reply: optional set of senderIds to decorate
	Reason   string            // no_reply: why
	Thinking string            // both: chain-of-thought / rationale text

	TokensUsed          int
	CorrelatedInboundIDs []string
}
