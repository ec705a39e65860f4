// Package orchestrator implements the Agent Orchestrator (C8): lifecycle
// owner wiring the Credential Pool, Stamina Controller, LLM Client,
// Per-Context Queue, Outbound Correlator, and Task Runner together, and the
// single ingress/admin-command entry point for inbound events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatrelay/internal/auditlog"
	"chatrelay/internal/bus"
	"chatrelay/internal/credential"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/queue"
	"chatrelay/internal/stamina"
	"chatrelay/internal/taskrunner"
)

// ThoughtWriter is the narrow slice of the thought log C8 needs to persist
// record-thought tasks.
type ThoughtWriter interface {
	Record(memoryType, content string, metadata map[string]string) error
}

// HealthProber is implemented by the remote model so initialize() can run a
// one-shot, non-fatal health probe.
type HealthProber interface {
	Healthy(ctx context.Context) error
}

// Correlator is the narrow slice of C7 the orchestrator drives directly.
type Correlator interface {
	domain.QueueListener
	RecordPending(msg domain.InboundMessage)
	PendingCount() int
	EvictAll() int
	Run(ctx context.Context)
}

// Config holds the orchestrator's own settings.
type Config struct {
	BotID          string
	BotName        string
	AdminSenderID  string
	ShutdownTimeout time.Duration
}

// Orchestrator is C8.
type Orchestrator struct {
	cfg        Config
	credential *credential.Pool
	stamina    *stamina.Controller
	queue      *queue.Queue
	runner     *taskrunner.Runner
	correlator Correlator
	model      HealthProber
	bus        domain.MessageBus
	logger     *slog.Logger

	startedAt time.Time
	degraded  atomic.Bool

	events   *bus.EventBus
	audit    *auditlog.Log
	thoughts ThoughtWriter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// EnableObservability wires an EventBus and audit log: credential-blocked
// and stamina-level-change events are recorded through it, and admin
// command invocations are logged. Purely observational — optional.
func (o *Orchestrator) EnableObservability(events *bus.EventBus, audit *auditlog.Log) {
	o.events = events
	o.audit = audit
	o.credential.SetListener(credentialEventBridge{o})
	o.stamina.SetListener(staminaEventBridge{o})
	if o.events != nil && o.audit != nil {
		o.events.On("*", func(e bus.Event) {
			o.audit.Record(context.Background(), e.Type, fmt.Sprintf("%v", e.Payload))
		})
	}
}

// SetThoughtWriter wires the thought log; optional, record-thought tasks
// just log at info level when unset.
func (o *Orchestrator) SetThoughtWriter(w ThoughtWriter) {
	o.thoughts = w
}

type credentialEventBridge struct{ o *Orchestrator }

func (b credentialEventBridge) OnCredentialBlocked(secretPrefix string, errorCount int) {
	metrics.CredentialBlocksTotal.Inc()
	if b.o.events == nil {
		return
	}
	b.o.events.Emit(bus.Event{
		Type:    bus.EventCredentialBlocked,
		Source:  "credential",
		Payload: map[string]any{"secretPrefix": secretPrefix, "errorCount": errorCount},
	})
}

type staminaEventBridge struct{ o *Orchestrator }

func (b staminaEventBridge) OnStaminaLevelChanged(previous, current domain.StaminaLevel) {
	if b.o.events == nil {
		return
	}
	b.o.events.Emit(bus.Event{
		Type:    bus.EventStaminaLevelChanged,
		Source:  "stamina",
		Payload: map[string]any{"previous": string(previous), "current": string(current)},
	})
}

// New constructs the Orchestrator from its already-built subsystems; callers
// are expected to have wired Queue with the Correlator as its listener and
// the LLM Client adapter as its processor before calling New.
func New(cfg Config, pool *credential.Pool, stam *stamina.Controller, q *queue.Queue, runner *taskrunner.Runner, corr Correlator, model HealthProber, messageBus domain.MessageBus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		credential: pool,
		stamina:    stam,
		queue:      q,
		runner:     runner,
		correlator: corr,
		model:      model,
		bus:        messageBus,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Initialize boots the subsystem background loops and runs a one-shot
// health probe against the remote model. A failing probe is logged and
// leaves the system in a degraded state (ingress still buffers) rather than
// refusing to start.
func (o *Orchestrator) Initialize(ctx context.Context) {
	o.startedAt = time.Now()
	o.registerTaskHandlers()

	go o.credential.Run(ctx)
	go o.stamina.Run(ctx)
	go o.runner.Run(ctx)
	go o.correlator.Run(ctx)

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := o.model.Healthy(probeCtx); err != nil {
		o.degraded.Store(true)
		o.logger.Warn("orchestrator: startup health probe failed, starting degraded", "error", err)
	} else {
		o.logger.Info("orchestrator: startup health probe passed")
	}
}

func (o *Orchestrator) registerTaskHandlers() {
	o.runner.Register(domain.TaskDeliverReply, o.handleDeliverReply)
	o.runner.Register(domain.TaskRecordThought, o.handleRecordThought)
}

func (o *Orchestrator) handleDeliverReply(ctx context.Context, task domain.Task) error {
	payload, ok := task.Payload.(domain.DeliverReplyPayload)
	if !ok {
		return fmt.Errorf("orchestrator: unexpected payload type for deliver-reply")
	}
	o.bus.SendOutbound(domain.OutboundMessage{
		ConversationID: payload.Originating.ConversationID,
		GroupID:        payload.Originating.GroupID,
		UserID:         payload.Originating.SenderID,
		Content:        payload.Content,
		Mention:        payload.Mention,
	})
	return nil
}

func (o *Orchestrator) handleRecordThought(ctx context.Context, task domain.Task) error {
	payload, ok := task.Payload.(domain.RecordThoughtPayload)
	if !ok {
		return fmt.Errorf("orchestrator: unexpected payload type for record-thought")
	}
	if o.thoughts == nil {
		o.logger.Info("thought", "conversation", payload.ConversationID, "content", payload.Content)
		return nil
	}
	return o.thoughts.Record("thinking", payload.Content, map[string]string{"conversationId": payload.ConversationID})
}

// HandleInbound is the single ingress entry point per §4.8: record a
// pending correlation, detect and dispatch admin commands for the
// configured admin identity, otherwise enqueue into C4.
func (o *Orchestrator) HandleInbound(msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()
	o.correlator.RecordPending(msg)

	if msg.Kind == domain.KindCommand && o.isAdmin(msg.SenderID) {
		reply := o.dispatchAdminCommand(msg.Content)
		if o.events != nil {
			o.events.Emit(bus.Event{
				Type:    bus.EventAdminCommandInvoked,
				Source:  "orchestrator",
				Payload: map[string]any{"command": msg.Content, "senderId": msg.SenderID},
			})
		}
		o.bus.SendOutbound(domain.OutboundMessage{
			ConversationID: msg.ConversationID,
			GroupID:        msg.GroupID,
			UserID:         msg.SenderID,
			Content:        reply,
		})
		return
	}

	o.queue.Enqueue(msg)
}

func (o *Orchestrator) isAdmin(senderID string) bool {
	return o.cfg.AdminSenderID != "" && senderID == o.cfg.AdminSenderID
}

// Shutdown stops accepting new ingress, drains the Task Runner, cancels
// in-flight C4 timers, and reports remaining pending correlations as
// evicted. Safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var shutdownErr error
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.logger.Info("orchestrator: shutting down")

		timeout := o.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			o.queue.Clear()
			o.runner.Shutdown()
			evicted := o.correlator.EvictAll()
			if evicted > 0 {
				o.logger.Warn("orchestrator: evicted pending correlations at shutdown", "count", evicted)
			}
			o.bus.Close()
			if o.audit != nil {
				o.audit.Close()
			}
		}()

		select {
		case <-done:
			o.logger.Info("orchestrator: shutdown complete")
		case <-shutdownCtx.Done():
			o.logger.Warn("orchestrator: shutdown timed out")
			shutdownErr = fmt.Errorf("orchestrator: shutdown timed out")
		case <-ctx.Done():
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}

// dispatchAdminCommand implements the admin control surface's verbs.
// Unrecognized commands fall through as a help listing.
func (o *Orchestrator) dispatchAdminCommand(raw string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	if len(fields) == 0 {
		return o.helpText()
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "queue":
		return o.handleQueueCommand(args)
	case "stamina":
		return o.handleStaminaCommand(args)
	case "apikeys":
		return o.handleAPIKeysCommand(args)
	case "resetkey":
		if len(args) == 0 {
			return "usage: resetkey <prefix>"
		}
		n := o.credential.ForceReset(args[0])
		return fmt.Sprintf("reset %d credential(s) matching prefix %q", n, args[0])
	case "switchkey":
		o.credential.ForceAdvance()
		return "rotation cursor advanced"
	case "start":
		o.queue.SetGroupProcessing(true)
		return "group-chat processing resumed"
	case "stop":
		o.queue.SetGroupProcessing(false)
		return "group-chat processing stopped"
	case "uptime":
		return fmt.Sprintf("uptime: %s", time.Since(o.startedAt).Round(time.Second))
	case "version":
		return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	case "audit":
		return o.handleAuditCommand(args)
	case "metrics":
		return metrics.Collector.Render()
	default:
		return o.helpText()
	}
}

func (o *Orchestrator) handleAuditCommand(args []string) string {
	if o.audit == nil {
		return "audit log not enabled"
	}
	eventType := ""
	if len(args) > 0 {
		eventType = args[0]
	}
	entries, err := o.audit.Recent(context.Background(), eventType, 10)
	if err != nil {
		return fmt.Sprintf("audit query failed: %v", err)
	}
	if len(entries) == 0 {
		return "no audit entries"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", e.RecordedAt.Format(time.RFC3339), e.EventType, e.Detail)
	}
	return b.String()
}

func (o *Orchestrator) handleQueueCommand(args []string) string {
	if len(args) == 0 {
		return "usage: queue status|flush|clear"
	}
	switch args[0] {
	case "status":
		snapshot := o.queue.Snapshot()
		var b strings.Builder
		fmt.Fprintf(&b, "contexts: %d, total processed: %d\n", len(snapshot), o.queue.TotalProcessed())
		for _, s := range snapshot {
			fmt.Fprintf(&b, "- %s: queued=%d processing=%t\n", s.ContextID, s.Queued, s.Processing)
		}
		return b.String()
	case "flush":
		results := o.queue.FlushAll()
		return fmt.Sprintf("flushed %d context(s)", len(results))
	case "clear":
		n := o.queue.Clear()
		return fmt.Sprintf("cleared %d queued message(s)", n)
	default:
		return "usage: queue status|flush|clear"
	}
}

func (o *Orchestrator) handleStaminaCommand(args []string) string {
	if len(args) == 0 {
		s := o.stamina.Snapshot()
		return fmt.Sprintf("current=%.1f/%.1f momentum=%.2f level=%s restMode=%t", s.Current, s.SMax, s.Momentum, s.Level, s.RestMode)
	}
	switch args[0] {
	case "rest":
		o.stamina.SetRestMode(true)
		return "rest mode enabled"
	case "set":
		if len(args) < 2 {
			return "usage: stamina set N"
		}
		n, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Sprintf("invalid value: %s", args[1])
		}
		o.stamina.SetCurrent(n)
		return fmt.Sprintf("stamina set to %.1f", n)
	default:
		return "usage: stamina | stamina rest | stamina set N"
	}
}

func (o *Orchestrator) handleAPIKeysCommand(args []string) string {
	snapshot := o.credential.Snapshot()
	var b strings.Builder
	for _, s := range snapshot {
		fmt.Fprintf(&b, "- %s errors=%d blocked=%t\n", s.Prefix, s.ErrorCount, s.Blocked)
	}
	if b.Len() == 0 {
		return "no credentials configured"
	}
	return b.String()
}

func (o *Orchestrator) helpText() string {
	return "commands: queue status|flush|clear, stamina|stamina rest|stamina set N, apikeys|resetkey <prefix>|switchkey, start|stop, uptime, version, audit [type], metrics"
}

// Degraded reports whether the startup health probe failed.
func (o *Orchestrator) Degraded() bool { return o.degraded.Load() }
