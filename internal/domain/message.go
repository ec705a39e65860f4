package domain

import "time"

// MessageKind distinguishes a plain chat message from an admin command.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindCommand MessageKind = "command"
)

// InboundMessage is an event arriving from the external chat bus. Immutable
// after construction.
type InboundMessage struct {
	ID                string
	SenderID          string
	SenderDisplayName string
	ConversationID    string
	GroupID           string
	Content           string
	ReceivedAt        time.Time
	Kind              MessageKind
}

// ContextID is the logical addressing key for a chat stream: the group id
// if present, else the conversation id, else the sender id.
func (m InboundMessage) ContextID() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.SenderID
}

// QueuedMessage is an InboundMessage annotated by C4 at ingress. Never
// mutated after creation.
type QueuedMessage struct {
	InboundMessage
	IsHighPriority bool
	EnqueuedAt     time.Time
}

// OutboundMessage is a reply or notification destined for the external bus.
type OutboundMessage struct {
	ConversationID string
	GroupID        string
	UserID         string
	Content        string
	Mention        string // optional senderId to decorate the reply with
}
