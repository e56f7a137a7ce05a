package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Controller - lifecycle and control surface
// ============================================================================
//
// The Controller owns the leash and counter supervisors and is the single
// entry point for everything that changes runtime state: IPC commands, config
// reloads and shutdown. Externally visible changes are emitted on the
// broadcast channel consumed by the WS broadcaster.
// ============================================================================

const (
	loopLeash   = "leash"
	loopCounter = "counter"
)

// Status is a point-in-time view of the daemon, returned by the "status"
// IPC command and sent as the WS state_init payload.
type Status struct {
	LeashRunning   bool           `json:"leash_running"`
	CounterRunning bool           `json:"counter_running"`
	Thresholds     Thresholds     `json:"thresholds"`
	Behavior       Behavior       `json:"behavior"`
	Movement       MovementOutput `json:"movement"`
	Counter        CounterTime    `json:"counter"`
	Parameters     []Parameter    `json:"parameters"`
}

// ControllerOptions holds the loop timings used for newly started instances.
type ControllerOptions struct {
	Loop            LoopConfig
	CounterInterval time.Duration

	// BroadcastBuf is the state broadcast queue size (default 128).
	BroadcastBuf int
}

type Controller struct {
	params   *ParameterStore
	settings *LiveSettings
	sender   oscSender
	counter  *leashCounter
	metrics  *Metrics
	logger   *slog.Logger

	leash        *loopSupervisor
	counterSuper *loopSupervisor

	broadcasts chan StateBroadcast

	// lifecycleMu serializes the active flags together with the supervisor
	// transitions they drive.
	lifecycleMu sync.Mutex

	mu              sync.Mutex
	parent          context.Context // set while Run is active
	loopCfg         LoopConfig
	counterInterval time.Duration
	leashActive     bool
	counterActive   bool
	movement        MovementOutput // last computed movement (display)
}

// NewController wires the supervisors. Loops start once Run is called.
func NewController(params *ParameterStore, settings *LiveSettings, sender oscSender, opts ControllerOptions, metrics *Metrics, logger *slog.Logger) *Controller {
	buf := opts.BroadcastBuf
	if buf <= 0 {
		buf = 128
	}
	interval := opts.CounterInterval
	if interval <= 0 {
		interval = defaultCounterInterval
	}

	c := &Controller{
		params:          params,
		settings:        settings,
		sender:          sender,
		counter:         &leashCounter{},
		metrics:         metrics,
		logger:          logger,
		broadcasts:      make(chan StateBroadcast, buf),
		loopCfg:         opts.Loop,
		counterInterval: interval,
	}

	c.leash = newLoopSupervisor(loopLeash, c.newLeashTask, metrics, logger)
	c.leash.onStateChange = c.loopStateChanged

	c.counterSuper = newLoopSupervisor(loopCounter, c.newCounterTask, metrics, logger)
	c.counterSuper.onStateChange = c.loopStateChanged

	return c
}

// Broadcasts returns the state change stream.
func (c *Controller) Broadcasts() <-chan StateBroadcast { return c.broadcasts }

// Run starts the loops that are active and blocks until ctx is canceled,
// then stops both loops.
func (c *Controller) Run(ctx context.Context) error {
	c.lifecycleMu.Lock()
	c.mu.Lock()
	c.parent = ctx
	leashActive, counterActive := c.leashActive, c.counterActive
	c.mu.Unlock()

	if leashActive {
		c.leash.Start(ctx)
	}
	if counterActive {
		c.counterSuper.Start(ctx)
	}
	c.lifecycleMu.Unlock()

	<-ctx.Done()

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	c.parent = nil
	c.mu.Unlock()

	c.leash.Stop()
	c.counterSuper.Stop()
	return nil
}

func (c *Controller) newLeashTask() func(ctx context.Context) error {
	c.mu.Lock()
	cfg := c.loopCfg
	c.mu.Unlock()

	l := newLeashLoop(c.params, c.settings, c.sender, cfg, c.metrics, c.logger.With("loop", loopLeash))
	l.onMovement = c.recordMovement
	return l.run
}

func (c *Controller) newCounterTask() func(ctx context.Context) error {
	c.mu.Lock()
	interval := c.counterInterval
	c.mu.Unlock()

	l := &counterLoop{
		params:   c.params,
		settings: c.settings,
		counter:  c.counter,
		sender:   c.sender,
		metrics:  c.metrics,
		logger:   c.logger.With("loop", loopCounter),
		interval: interval,
		onChange: c.counterChanged,
	}
	return l.run
}

// SetLeashActive starts or stops the leash loop. Stopping also zeroes the
// movement inputs so the avatar does not keep walking.
func (c *Controller) SetLeashActive(active bool) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.setLeashActiveLocked(active)
}

func (c *Controller) setLeashActiveLocked(active bool) {
	c.mu.Lock()
	c.leashActive = active
	parent := c.parent
	c.mu.Unlock()

	if parent == nil {
		return
	}
	if active {
		c.leash.Start(parent)
		return
	}
	if c.leash.Stop() {
		c.releaseMovement()
	}
}

// SetCounterActive starts or stops the counter loop.
func (c *Controller) SetCounterActive(active bool) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.setCounterActiveLocked(active)
}

func (c *Controller) setCounterActiveLocked(active bool) {
	c.mu.Lock()
	c.counterActive = active
	parent := c.parent
	c.mu.Unlock()

	if parent == nil {
		return
	}
	if active {
		c.counterSuper.Start(parent)
		return
	}
	c.counterSuper.Stop()
}

// ApplyConfig live-applies a (reloaded) config. Timing changes restart the
// affected loop so the new instance picks them up.
func (c *Controller) ApplyConfig(cfg Config) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.settings.SetThresholds(cfg.ToThresholds())
	c.settings.SetBehavior(cfg.ToBehavior())

	loopCfg := cfg.ToLoopConfig()
	interval := cfg.CounterInterval()

	c.mu.Lock()
	loopChanged := c.loopCfg != loopCfg
	intervalChanged := c.counterInterval != interval
	c.loopCfg = loopCfg
	c.counterInterval = interval
	c.mu.Unlock()

	if loopChanged && c.leash.Stop() && !cfg.Leash.Enabled {
		c.releaseMovement()
	}
	if intervalChanged {
		c.counterSuper.Stop()
	}

	c.setLeashActiveLocked(cfg.Leash.Enabled)
	c.setCounterActiveLocked(cfg.Counter.Enabled)
}

// SetCalculator selects the movement strategy by name.
func (c *Controller) SetCalculator(name string) error {
	kind, err := ParseCalculatorType(name)
	if err != nil {
		return err
	}
	c.settings.SetCalculator(kind)
	c.logger.Info("calculator changed", "calculator", kind.String())
	return nil
}

// SetResetOnNullInput toggles the automatic reset protocol.
func (c *Controller) SetResetOnNullInput(enabled bool) {
	c.settings.SetResetOnNullInput(enabled)
	c.logger.Info("reset on null input changed", "enabled", enabled)
}

// PatchThresholds validates and applies a partial threshold update.
func (c *Controller) PatchThresholds(p ThresholdsPatch) (Thresholds, error) {
	return c.settings.PatchThresholds(p)
}

// EmergencyStop disables leash and counter, waits for the loops to observe
// it, then zeroes the movement inputs. A running leash loop is restarted so
// its last emitted movement matches the zeroed inputs; re-enabling the leash
// then sends the current pull again.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.settings.SetLeashEnabled(false)
	c.settings.SetCounterEnabled(false)
	c.logger.Warn("emergency stop")

	if err := sleepContext(ctx, emergencyStopSettle); err != nil {
		return err
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	wasRunning := c.leash.Stop()
	err := c.sender.SendMovement(MovementOutput{})
	if err == nil {
		c.recordMovement(MovementOutput{})
	}

	c.mu.Lock()
	parent := c.parent
	c.mu.Unlock()
	if wasRunning && parent != nil {
		c.leash.Start(parent)
	}

	if err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	return nil
}

// ResetCounter zeroes the counter and publishes the zero time to the avatar.
func (c *Controller) ResetCounter() {
	c.counter.reset()
	c.metrics.SetCounterSeconds(0)

	if err := sendCounterTime(c.sender, CounterTime{}); err != nil {
		c.logger.Warn("failed to send counter reset", "error", err)
	}
	c.counterChanged(CounterTime{})
	c.logger.Info("counter reset")
}

// Status returns the current daemon state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	movement := c.movement
	c.mu.Unlock()

	s := c.settings.Snapshot()
	return Status{
		LeashRunning:   c.leash.Running(),
		CounterRunning: c.counterSuper.Running(),
		Thresholds:     s.Thresholds,
		Behavior:       s.Behavior,
		Movement:       movement,
		Counter:        c.counter.Time(),
		Parameters:     c.params.Parameters(),
	}
}

// Execute runs a control command. The returned data is non-nil only for
// commands that produce a result.
func (c *Controller) Execute(ctx context.Context, cmd Command) (any, error) {
	switch cmd := cmd.(type) {
	case LeashEnable:
		c.SetLeashActive(true)
	case LeashDisable:
		c.SetLeashActive(false)
	case CounterEnable:
		c.SetCounterActive(true)
	case CounterDisable:
		c.SetCounterActive(false)
	case SetCalculator:
		return nil, c.SetCalculator(cmd.Calculator)
	case SetResetOnNullInput:
		c.SetResetOnNullInput(cmd.Enabled)
	case SetThresholds:
		t, err := c.PatchThresholds(cmd.ThresholdsPatch)
		if err != nil {
			return nil, err
		}
		return t, nil
	case EmergencyStop:
		return nil, c.EmergencyStop(ctx)
	case CounterReset:
		c.ResetCounter()
	case StatusRequest:
		return c.Status(), nil
	default:
		return nil, fmt.Errorf("unsupported command type: %T", cmd)
	}
	return nil, nil
}

// releaseMovement sends a zero movement after the leash loop stopped.
func (c *Controller) releaseMovement() {
	if err := c.sender.SendMovement(MovementOutput{}); err != nil {
		c.logger.Warn("failed to release movement inputs", "error", err)
		return
	}
	c.recordMovement(MovementOutput{})
}

// recordMovement stores the latest computed movement and emits a broadcast
// when it differs from the previous one.
func (c *Controller) recordMovement(m MovementOutput) {
	c.mu.Lock()
	changed := m != c.movement
	c.movement = m
	c.mu.Unlock()

	if changed {
		c.emit(BroadcastMovementChanged{Movement: m, At: time.Now().UTC()})
	}
}

func (c *Controller) counterChanged(ct CounterTime) {
	c.emit(BroadcastCounterChanged{Counter: ct, At: time.Now().UTC()})
}

func (c *Controller) loopStateChanged(name string, running bool) {
	c.emit(BroadcastLoopStateChanged{Loop: name, Running: running, At: time.Now().UTC()})
}

// emit never blocks; state broadcasts are display-only.
func (c *Controller) emit(b StateBroadcast) {
	select {
	case c.broadcasts <- b:
	default:
		c.logger.Debug("state broadcast queue full, dropping", "type", fmt.Sprintf("%T", b))
	}
}
