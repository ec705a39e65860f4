package domain

// QueueListener is implemented by components that want to react to a C4
// flush without C4 holding a reference back to them. C7 (and C8, for
// observability) implement this; C4 only ever holds the narrow interface,
// breaking the Orchestrator <-> Correlator <-> Queue cycle.
type QueueListener interface {
	OnQueueFlushed(evt QueueFlushedEvent)
	OnQueueError(evt QueueErrorEvent)
}

// QueueFlushedEvent is emitted by C4 after a successful flush that produced
// an LLMDecision.
type QueueFlushedEvent struct {
	ContextID            string
	Decision             LLMDecision
	BatchInboundIDs       []string // ids of the messages in the flushed snapshot
	Reason               string
}

// QueueErrorEvent is emitted by C4 when handing a snapshot to C5/C2 fails
// terminally.
type QueueErrorEvent struct {
	ContextID      string
	BatchInboundIDs []string
	Err            error
}

// StaminaLevel is a derived label over current/S_max.
type StaminaLevel string

const (
	LevelHigh     StaminaLevel = "high"
	LevelMedium   StaminaLevel = "medium"
	LevelLow      StaminaLevel = "low"
	LevelCritical StaminaLevel = "critical"
)

// StaminaListener receives level-transition notifications. No core
// behavioral branch depends on this; it exists for logging/observability.
type StaminaListener interface {
	OnStaminaLevelChanged(previous, current StaminaLevel)
}
