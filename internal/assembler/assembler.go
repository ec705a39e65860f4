// Package assembler implements the Batch Assembler (C5): turns a drained
// batch snapshot into a structured LLM input, and owns the bounded
// in-memory per-conversation history that supplies recent context.
package assembler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

const (
	maxHistoryPerConversation = 100
	maxRecentHistory          = 50
)

// Entry is one message-shaped row shared by queueMessages and
// recentHistory.
type Entry struct {
	MessageID  string    `json:"messageId"`
	Content    string    `json:"content"`
	SenderName string    `json:"senderName"`
	SenderID   string    `json:"senderId"`
	Timestamp  time.Time `json:"timestamp"`
	Role       string    `json:"role"`
}

// Summary is the aggregate view of a batch.
type Summary struct {
	MessageCount    int  `json:"messageCount"`
	UserCount       int  `json:"userCount"`
	TimespanSeconds float64 `json:"timespanSeconds"`
	HasHighPriority bool `json:"hasHighPriority"`
}

// StructuredContext is the JSON-shaped object C2's prompt builder
// serializes into the prompt.
type StructuredContext struct {
	Summary       Summary `json:"summary"`
	QueueMessages []Entry `json:"queueMessages"`
	RecentHistory []Entry `json:"recentHistory"`
}

// Assembler owns the per-conversation bounded history ring (non-persistent,
// per the non-goal that conversation history is in-memory only).
type Assembler struct {
	mu      sync.Mutex
	botID   string
	history map[string][]Entry
}

// New creates an Assembler. botID is the configured bot identity used to
// classify history entries as assistant-authored.
func New(botID string) *Assembler {
	return &Assembler{botID: botID, history: make(map[string][]Entry)}
}

func roleFor(senderID, botID string) string {
	if botID != "" && strings.EqualFold(senderID, botID) {
		return "assistant"
	}
	return "user"
}

func toEntry(m domain.QueuedMessage, botID string) Entry {
	return Entry{
		MessageID:  m.ID,
		Content:    m.Content,
		SenderName: m.SenderDisplayName,
		SenderID:   m.SenderID,
		Timestamp:  m.ReceivedAt,
		Role:       roleFor(m.SenderID, botID),
	}
}

// Assemble builds the mainContent string and structuredContext for a
// drained batch snapshot, then commits the batch into the per-context
// history ring.
func (a *Assembler) Assemble(contextID string, snapshot []domain.QueuedMessage) (mainContent string, sc StructuredContext) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queueMessages := make([]Entry, len(snapshot))
	users := make(map[string]bool)
	hasHighPriority := false
	var lastHighPriority, last *domain.QueuedMessage

	for i := range snapshot {
		m := &snapshot[i]
		queueMessages[i] = toEntry(*m, a.botID)
		users[m.SenderID] = true
		if m.IsHighPriority {
			hasHighPriority = true
			lastHighPriority = m
		}
		last = m
	}

	chosen := last
	if lastHighPriority != nil {
		chosen = lastHighPriority
	}
	if chosen != nil {
		mainContent = chosen.Content
	}

	var timespan float64
	if len(snapshot) > 1 {
		timespan = snapshot[len(snapshot)-1].EnqueuedAt.Sub(snapshot[0].EnqueuedAt).Seconds()
	}

	sc.Summary = Summary{
		MessageCount:    len(snapshot),
		UserCount:       len(users),
		TimespanSeconds: timespan,
		HasHighPriority: hasHighPriority,
	}
	sc.QueueMessages = queueMessages
	sc.RecentHistory = a.recentHistoryLocked(contextID)

	a.commitLocked(contextID, queueMessages...)
	return mainContent, sc
}

func (a *Assembler) recentHistoryLocked(contextID string) []Entry {
	h := a.history[contextID]
	n := len(h)
	start := 0
	if n > maxRecentHistory {
		start = n - maxRecentHistory
	}
	out := make([]Entry, n-start)
	copy(out, h[start:])
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (a *Assembler) commitLocked(contextID string, entries ...Entry) {
	h := append(a.history[contextID], entries...)
	if len(h) > maxHistoryPerConversation {
		h = h[len(h)-maxHistoryPerConversation:]
	}
	a.history[contextID] = h
}

// CommitReply records the final chosen reply text as an assistant-role
// history entry for contextID.
func (a *Assembler) CommitReply(contextID, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commitLocked(contextID, Entry{
		Content:   content,
		SenderID:  a.botID,
		Role:      "assistant",
		Timestamp: time.Now(),
	})
}
