// Package credential implements the Credential Pool (C1): an ordered set of
// LLM API credentials with per-credential failure tracking, sliding-window
// rate-limit accounting, and time-bounded blocking.
package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

const (
	slidingWindow  = 5 * time.Minute
	blockDuration  = time.Hour
	errorThreshold = 5
)

// BlockListener is notified when a credential crosses the block threshold.
// Purely observational: no core behavior depends on it.
type BlockListener interface {
	OnCredentialBlocked(secretPrefix string, errorCount int)
}

// Pool rotates through a deduplicated, order-preserving set of credentials.
type Pool struct {
	mu          sync.Mutex
	credentials []*domain.Credential
	cursor      int
	logger      *slog.Logger
	now         func() time.Time
	listener    BlockListener
}

// SetListener registers the (optional) block-event observer.
func (p *Pool) SetListener(l BlockListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// New builds a pool from a primary and backup secret list, merged and
// deduplicated on identity while preserving first-seen order.
func New(primary, backup []string, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger, now: time.Now}
	seen := make(map[string]bool)
	for _, secrets := range [][]string{primary, backup} {
		for _, s := range secrets {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			p.credentials = append(p.credentials, &domain.Credential{OpaqueSecret: s})
		}
	}
	return p
}

// Len reports how many distinct credentials the pool holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.credentials)
}

// Acquire returns the first non-blocked credential starting at the rotation
// cursor. If every credential is blocked, it returns the one with the
// earliest BlockedAt (degraded mode) and logs a warning.
func (p *Pool) Acquire() (*domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()

	n := len(p.credentials)
	if n == 0 {
		return nil, domain.ErrConfigInvalid
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.credentials[idx]
		if !c.Blocked() {
			p.cursor = (idx + 1) % n
			return c, nil
		}
	}

	// Degraded mode: all blocked, pick earliest BlockedAt.
	earliest := p.credentials[0]
	for _, c := range p.credentials[1:] {
		if c.BlockedAt.Before(earliest.BlockedAt) {
			earliest = c
		}
	}
	p.logger.Warn("credential pool degraded: all credentials blocked, reusing earliest-blocked", "secret_prefix", prefix(earliest.OpaqueSecret))
	return earliest, nil
}

// ReportOutcome updates the per-credential state machine after a call.
func (p *Pool) ReportOutcome(secret string, kind domain.ErrorKind) {
	p.mu.Lock()

	c := p.find(secret)
	if c == nil {
		p.mu.Unlock()
		return
	}

	justBlocked := false
	switch kind {
	case domain.KindUnknown:
		// success
		c.ErrorCount = 0
		c.FirstErrorAtInWindow = time.Time{}
	case domain.KindRateLimited:
		now := p.now()
		if c.FirstErrorAtInWindow.IsZero() || now.Sub(c.FirstErrorAtInWindow) > slidingWindow {
			c.FirstErrorAtInWindow = now
			c.ErrorCount = 0
		}
		c.ErrorCount++
		if c.ErrorCount >= errorThreshold {
			c.BlockedAt = now
			p.advanceCursorPast(c)
			p.logger.Warn("credential blocked", "secret_prefix", prefix(c.OpaqueSecret), "error_count", c.ErrorCount)
			justBlocked = true
		}
	default:
		// CredentialInvalid / TransientRemote / ParseError: recorded for
		// diagnostics only, does not alter block state.
	}

	listener := p.listener
	secretPrefix := prefix(c.OpaqueSecret)
	errorCount := c.ErrorCount
	p.mu.Unlock()

	if justBlocked && listener != nil {
		listener.OnCredentialBlocked(secretPrefix, errorCount)
	}
}

// ReportSuccess is sugar for ReportOutcome(secret, domain.KindUnknown).
func (p *Pool) ReportSuccess(secret string) { p.ReportOutcome(secret, domain.KindUnknown) }

func (p *Pool) find(secret string) *domain.Credential {
	for _, c := range p.credentials {
		if c.OpaqueSecret == secret {
			return c
		}
	}
	return nil
}

func (p *Pool) advanceCursorPast(blocked *domain.Credential) {
	for i, c := range p.credentials {
		if c == blocked {
			p.cursor = (i + 1) % len(p.credentials)
			return
		}
	}
}

// Sweep unblocks credentials whose block has exceeded blockDuration,
// resetting their error state. Safe to call periodically and is also called
// implicitly by Acquire.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
}

func (p *Pool) sweepLocked() {
	now := p.now()
	for _, c := range p.credentials {
		if c.Blocked() && now.Sub(c.BlockedAt) > blockDuration {
			c.BlockedAt = time.Time{}
			c.ErrorCount = 0
			c.FirstErrorAtInWindow = time.Time{}
		}
	}
}

// DailyReset clears all error counts and blocks. Intended to run at local
// midnight.
func (p *Pool) DailyReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.credentials {
		c.ErrorCount = 0
		c.BlockedAt = time.Time{}
		c.FirstErrorAtInWindow = time.Time{}
	}
	p.logger.Info("credential pool: daily reset applied")
}

// ForceAdvance is an admin operation: moves the rotation cursor forward by
// one, logging the operator action.
func (p *Pool) ForceAdvance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.credentials) == 0 {
		return
	}
	p.cursor = (p.cursor + 1) % len(p.credentials)
	p.logger.Info("credential pool: operator forced cursor advance")
}

// ForceReset unblocks and clears error state for every credential whose
// secret has the given prefix, logging the operator action.
func (p *Pool) ForceReset(secretPrefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.credentials {
		if matchesPrefix(c.OpaqueSecret, secretPrefix) {
			c.ErrorCount = 0
			c.BlockedAt = time.Time{}
			c.FirstErrorAtInWindow = time.Time{}
			n++
		}
	}
	p.logger.Info("credential pool: operator forced reset", "prefix", secretPrefix, "matched", n)
	return n
}

// Status is a read-only snapshot for the observability surface.
type Status struct {
	Prefix     string
	ErrorCount int
	Blocked    bool
	BlockedFor time.Duration
}

// Snapshot returns the current status of every credential, in pool order.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.credentials))
	now := p.now()
	for _, c := range p.credentials {
		s := Status{Prefix: prefix(c.OpaqueSecret), ErrorCount: c.ErrorCount, Blocked: c.Blocked()}
		if s.Blocked {
			s.BlockedFor = now.Sub(c.BlockedAt)
		}
		out = append(out, s)
	}
	return out
}

// Run drives the periodic sweep and the daily-midnight reset until ctx is
// cancelled. One-shot timers are re-armed on each firing, per the repeating
// pattern used throughout this codebase for background maintenance.
func (p *Pool) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()

	midnightTimer := time.NewTimer(durationUntilNextMidnight(p.now()))
	defer midnightTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			p.Sweep()
		case <-midnightTimer.C:
			p.DailyReset()
			midnightTimer.Reset(durationUntilNextMidnight(p.now()))
		}
	}
}

func durationUntilNextMidnight(now time.Time) time.Duration {
	year, month, day := now.Date()
	nextMidnight := time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
	return nextMidnight.Sub(now)
}

func prefix(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8] + "..."
}

func matchesPrefix(secret, prefix string) bool {
	return len(secret) >= len(prefix) && secret[:len(prefix)] == prefix
}
