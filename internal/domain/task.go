package domain

// TaskKind distinguishes the two task payloads the runner knows about.
type TaskKind string

const (
	TaskDeliverReply  TaskKind = "deliver-reply"
	TaskRecordThought TaskKind = "record-thought"
)

// Task is a tagged variant enqueued into C6.
type Task struct {
	ID         string
	Kind       TaskKind
	Payload    any
	Attempts   int
	MaxAttempts int
}

// DeliverReplyPayload is the payload of a TaskDeliverReply task.
type DeliverReplyPayload struct {
	Originating InboundMessage
	Content     string
	Mention     string
}

// RecordThoughtPayload is the payload of a TaskRecordThought task.
type RecordThoughtPayload struct {
	ConversationID string
	Content        string
}
