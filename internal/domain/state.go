package domain

import "time"

// Credential is one LLM API credential tracked by the Credential Pool (C1).
type Credential struct {
	OpaqueSecret         string
	ErrorCount           int
	BlockedAt            time.Time // zero value means not blocked
	FirstErrorAtInWindow time.Time // zero value means no open window
}

func (c *Credential) Blocked() bool { return !c.BlockedAt.IsZero() }

// StaminaState is the single process-wide fatigue model state, mutated only
// by C3 under its own lock.
type StaminaState struct {
	Current      float64
	Momentum     float64
	LastUpdateAt time.Time
	RestMode     bool
}

// PendingCorrelation links an inbound message to the event it arrived on,
// held until the correlator dispatches or evicts it.
type PendingCorrelation struct {
	InboundMessageID string
	Originating      InboundMessage
	CreatedAt        time.Time
}

// PerContextQueueState is one per active context id, created lazily on
// first enqueue and destroyed when empty, un-timed, and not processing.
type PerContextQueueState struct {
	ContextID       string
	Messages        []QueuedMessage
	Processing      bool
	LastFlushAt     time.Time
	LastFlushReason string
}
