package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CounterTime is the counter split into clock fields. Hours wrap at 24.
type CounterTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// leashCounter accumulates the time spent being pulled on the leash.
//
// Thread-safe: the counter loop writes, IPC/status readers read.
type leashCounter struct {
	mu      sync.Mutex
	elapsed time.Duration
}

func (c *leashCounter) add(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed += d
	return c.elapsed
}

func (c *leashCounter) reset() {
	c.mu.Lock()
	c.elapsed = 0
	c.mu.Unlock()
}

func (c *leashCounter) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *leashCounter) Time() CounterTime {
	return splitCounter(c.Elapsed())
}

func splitCounter(d time.Duration) CounterTime {
	total := int(d / time.Second)
	return CounterTime{
		Hours:   (total / 3600) % 24,
		Minutes: (total / 60) % 60,
		Seconds: total % 60,
	}
}

// counterLoop advances the counter once per interval while the leash is
// grabbed and stretched to at least the counter threshold.
type counterLoop struct {
	params   ParameterSource
	settings *LiveSettings
	counter  *leashCounter
	sender   oscSender
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration

	// onChange receives the new counter value after every increment (may be nil).
	onChange func(CounterTime)
}

func (l *counterLoop) run(ctx context.Context) error {
	interval := l.interval
	if interval <= 0 {
		interval = defaultCounterInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick returns true when the counter advanced.
func (l *counterLoop) tick() bool {
	t := l.settings.Thresholds()
	p := l.params.Snapshot()

	if !t.CounterEnabled || !p.IsGrabbed || p.Stretch < t.CounterThreshold {
		return false
	}

	elapsed := l.counter.add(time.Second)
	l.metrics.SetCounterSeconds(elapsed.Seconds())

	ct := splitCounter(elapsed)
	l.sendTime(ct)
	if l.onChange != nil {
		l.onChange(ct)
	}
	return true
}

// sendTime publishes the clock fields to the avatar.
func (l *counterLoop) sendTime(ct CounterTime) {
	if l.sender == nil {
		return
	}
	if err := sendCounterTime(l.sender, ct); err != nil {
		l.logger.Warn("failed to send counter parameters", "error", err)
	}
}

// sendCounterTime writes timer_hour, timer_minute and timer_second as avatar
// floats (value * 0.01).
func sendCounterTime(sender oscSender, ct CounterTime) error {
	fields := []struct {
		name  string
		value int
	}{
		{paramTimerHour, ct.Hours},
		{paramTimerMinute, ct.Minutes},
		{paramTimerSecond, ct.Seconds},
	}
	for _, f := range fields {
		if err := sender.SendParameter(f.name, float32(f.value)*0.01); err != nil {
			return fmt.Errorf("send %s: %w", f.name, err)
		}
	}
	return nil
}
