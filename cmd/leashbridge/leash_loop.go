package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Leash Loop - fixed-rate polling of the leash parameters
// ============================================================================
//
// Each tick:
//   - skip when the leash is disabled in the thresholds
//   - run the reset protocol when every collider reads 0 (if enabled)
//   - otherwise compute movement and send it only when it changed
//
// Ticks never overlap; the reset protocol runs inline and blocks the next tick.
// ============================================================================

// oscSender is the outbound side of the OSC transport.
type oscSender interface {
	SendMovement(m MovementOutput) error
	SendParameter(name string, value any) error
}

// LoopConfig holds the timing and protocol constants of the leash loop.
type LoopConfig struct {
	TickInterval     time.Duration
	ResetDelay       time.Duration
	MaxResetAttempts int
	CombinedCutover  float32
}

// DefaultLoopConfig returns the standard loop timings.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickInterval:     defaultTickInterval,
		ResetDelay:       defaultResetDelay,
		MaxResetAttempts: defaultMaxResetAttempts,
		CombinedCutover:  defaultCombinedCutover,
	}
}

// tickOutcome labels what a single tick did (used for metrics and tests).
type tickOutcome string

const (
	tickDisabled  tickOutcome = "disabled"
	tickReset     tickOutcome = "reset"
	tickUnchanged tickOutcome = "unchanged"
	tickEmitted   tickOutcome = "emitted"
	tickSendError tickOutcome = "send_error"
)

// leashLoop is one instance of the polling loop. A new instance is created for
// every start so previous output and retry state never leak across restarts.
type leashLoop struct {
	params   ParameterSource
	settings *LiveSettings
	sender   oscSender
	metrics  *Metrics
	logger   *slog.Logger
	cfg      LoopConfig

	// onMovement receives every computed output (display only).
	onMovement func(MovementOutput)

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	previous   MovementOutput
	retryCount int
}

func newLeashLoop(params ParameterSource, settings *LiveSettings, sender oscSender, cfg LoopConfig, metrics *Metrics, logger *slog.Logger) *leashLoop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.ResetDelay < 0 {
		cfg.ResetDelay = 0
	}
	if cfg.MaxResetAttempts < 0 {
		cfg.MaxResetAttempts = 0
	}
	if cfg.CombinedCutover == 0 {
		cfg.CombinedCutover = defaultCombinedCutover
	}

	return &leashLoop{
		params:   params,
		settings: settings,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// run ticks until ctx is canceled. Cancellation returns nil; a failed tick
// returns its error and ends this loop instance.
func (l *leashLoop) run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if _, err := l.safeTick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error("leash loop failed", "error", err)
				return err
			}
		}
	}
}

// safeTick runs tick and converts a panic into an error.
func (l *leashLoop) safeTick(ctx context.Context) (outcome tickOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("leash tick panic: %v", r)
		}
	}()
	return l.tick(ctx)
}

// tick performs exactly one polling step.
func (l *leashLoop) tick(ctx context.Context) (tickOutcome, error) {
	settings := l.settings.Snapshot()
	if !settings.Thresholds.LeashEnabled {
		l.metrics.ObserveTick(tickDisabled)
		return tickDisabled, nil
	}

	params := l.params.Snapshot()

	if l.shouldReset(params, settings.Behavior) {
		if err := l.resetLeash(ctx); err != nil {
			return tickReset, err
		}
		l.metrics.ObserveTick(tickReset)
		return tickReset, nil
	}

	current := Calculate(settings.Behavior.Calculator, params, settings.Thresholds, l.previous, l.cfg.CombinedCutover)

	if l.onMovement != nil {
		l.onMovement(current)
	}

	if current == l.previous {
		l.metrics.ObserveTick(tickUnchanged)
		return tickUnchanged, nil
	}

	if err := l.sender.SendMovement(current); err != nil {
		// Keep the old previous so the next tick retries the send.
		l.logger.Warn("failed to send movement", "error", err)
		l.metrics.ObserveTick(tickSendError)
		return tickSendError, nil
	}

	l.previous = current
	l.metrics.ObserveTick(tickEmitted)
	l.logger.Debug("movement sent",
		"vertical", current.VerticalOffset,
		"horizontal", current.HorizontalOffset,
		"look", current.HorizontalLook,
		"run", current.ShouldRun)
	return tickEmitted, nil
}

// shouldReset reports whether the reset protocol applies to this tick and
// clears the retry counter once the zero-distance condition is gone.
func (l *leashLoop) shouldReset(p ParameterSnapshot, b Behavior) bool {
	reset := b.ResetOnNullInput && isZeroColliderDistance(p)
	if !reset && l.retryCount > 0 {
		l.retryCount = 0
	}
	return reset
}

// resetLeash toggles Leash_Enabled off and on, up to MaxResetAttempts times.
// After the last attempt it reports once and stays idle until the counter resets.
func (l *leashLoop) resetLeash(ctx context.Context) error {
	switch {
	case l.retryCount < l.cfg.MaxResetAttempts:
		if err := l.sender.SendParameter(paramEnabled, false); err != nil {
			l.logger.Warn("failed to disable leash for reset", "error", err)
		}
		if err := l.sleep(ctx, l.cfg.ResetDelay); err != nil {
			return err
		}
		if err := l.sender.SendParameter(paramEnabled, true); err != nil {
			l.logger.Warn("failed to re-enable leash after reset", "error", err)
		}
		if err := l.sleep(ctx, l.cfg.ResetDelay); err != nil {
			return err
		}

		l.retryCount++
		l.metrics.ObserveResetAttempt()
		l.logger.Info("leash reset attempt", "attempt", l.retryCount)

	case l.retryCount == l.cfg.MaxResetAttempts:
		l.retryCount++
		l.metrics.ObserveResetExhausted()
		l.logger.Info("unable to automatically reset the leash", "attempts", l.cfg.MaxResetAttempts)
	}
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
