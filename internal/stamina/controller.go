// Package stamina implements the Stamina Controller (C3): a continuous
// fatigue-with-inertia model that gates replies at the scheduler boundary.
package stamina

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

// Config holds the tunable parameters of the fatigue model, all with
// defaults per the configuration option table.
type Config struct {
	SMax          float64
	K             float64
	P             float64
	Alpha         float64
	Beta          float64
	Gamma         float64
	R             float64
	RegenInterval time.Duration
	LowThresh     float64
	CriticalThresh float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SMax:          100,
		K:             1,
		P:             1,
		Alpha:         0.5,
		Beta:          0.1,
		Gamma:         0.4,
		R:             5,
		RegenInterval: time.Second,
		LowThresh:     30,
		CriticalThresh: 10,
	}
}

// Controller owns the single process-wide StaminaState.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	state    domain.StaminaState
	logger   *slog.Logger
	listener domain.StaminaListener
	now      func() time.Time
}

// New creates a Controller starting at full stamina.
func New(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	return &Controller{
		cfg:    cfg,
		logger: logger,
		now:    now,
		state: domain.StaminaState{
			Current:      cfg.SMax,
			Momentum:     0,
			LastUpdateAt: now(),
			RestMode:     false,
		},
	}
}

// SetListener registers the (optional) level-transition observer. Not
// required for correctness; no behavioral branch depends on it.
func (c *Controller) SetListener(l domain.StaminaListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// updateLocked applies one discrete step of the model. Caller holds c.mu.
func (c *Controller) updateLocked(intensity, dt float64) {
	s := &c.state
	s.Momentum = math.Max(0, s.Momentum*(1-c.cfg.Beta*dt)+c.cfg.Alpha*intensity*dt)
	if !s.RestMode {
		consume := c.cfg.K * math.Pow(intensity, c.cfg.P) * dt
		recover := (c.cfg.R*(1-s.Current/c.cfg.SMax) - c.cfg.Gamma*s.Momentum) * dt
		s.Current = clamp(s.Current-consume+recover, 0, c.cfg.SMax)
	}
	s.LastUpdateAt = c.now()
}

func (c *Controller) levelLocked() domain.StaminaLevel {
	ratio := c.state.Current / c.cfg.SMax
	switch {
	case ratio >= 0.7:
		return domain.LevelHigh
	case ratio >= 0.5:
		return domain.LevelMedium
	case c.state.Current >= c.cfg.CriticalThresh:
		return domain.LevelLow
	default:
		return domain.LevelCritical
	}
}

// Level returns the current derived stamina level.
func (c *Controller) Level() domain.StaminaLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelLocked()
}

// CanReply reports whether the controller currently has enough stamina for
// at least one more unit of work, and is not in rest mode.
func (c *Controller) CanReply() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.RestMode {
		return false
	}
	return c.state.Current >= c.cfg.K*math.Pow(1, c.cfg.P)
}

// catchUpLocked applies an intensity-zero update for whatever time has
// elapsed since the last update, bringing the model current before an
// intensity-bearing update is applied. Caller holds c.mu.
func (c *Controller) catchUpLocked() {
	elapsed := c.now().Sub(c.state.LastUpdateAt).Seconds()
	if elapsed > 0 {
		c.updateLocked(0, elapsed)
	}
}

// Tick applies one background regeneration step (I=0), advancing by the
// actual elapsed wall-clock time since the last update.
func (c *Controller) Tick() {
	c.mu.Lock()
	prev := c.levelLocked()
	c.catchUpLocked()
	cur := c.levelLocked()
	listener := c.listener
	c.mu.Unlock()
	c.notify(listener, prev, cur)
}

// Consume applies the cost of having just processed a batch of messageCount
// messages: it first catches the model up to now with a zero-intensity
// update, then applies the batch's own dt=1 update.
func (c *Controller) Consume(messageCount int) {
	c.mu.Lock()
	prev := c.levelLocked()
	c.catchUpLocked()
	c.updateLocked(float64(messageCount), 1)
	cur := c.levelLocked()
	listener := c.listener
	c.mu.Unlock()
	c.notify(listener, prev, cur)
}

func (c *Controller) notify(listener domain.StaminaListener, prev, cur domain.StaminaLevel) {
	if listener != nil && prev != cur {
		listener.OnStaminaLevelChanged(prev, cur)
	}
}

// SetRestMode toggles rest mode (admin operation "stamina rest").
func (c *Controller) SetRestMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catchUpLocked()
	c.state.RestMode = on
}

// SetCurrent forcibly sets the current stamina value (admin operation
// "stamina set N"), clamped to [0, S_max].
func (c *Controller) SetCurrent(n float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Current = clamp(n, 0, c.cfg.SMax)
}

// Status is a read-only snapshot for the observability surface.
type Status struct {
	Current  float64
	SMax     float64
	Momentum float64
	RestMode bool
	Level    domain.StaminaLevel
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Current:  c.state.Current,
		SMax:     c.cfg.SMax,
		Momentum: c.state.Momentum,
		RestMode: c.state.RestMode,
		Level:    c.levelLocked(),
	}
}

// Run drives the periodic background tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	interval := c.cfg.RegenInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
