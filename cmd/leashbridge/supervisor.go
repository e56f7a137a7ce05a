package main

import (
	"context"
	"log/slog"
	"sync"
)

// loopSupervisor owns at most one running instance of a loop.
//
// Start and Stop are serialized by opMu for their whole duration, so two
// instances can never write to the same OSC output at once. Every Start
// derives a fresh context; a canceled one is never reused.
type loopSupervisor struct {
	name    string
	newTask func() func(ctx context.Context) error
	metrics *Metrics
	logger  *slog.Logger

	// onStateChange is called with the new running state (may be nil).
	// It runs without mu held and may call Running, but not Start or Stop.
	onStateChange func(name string, running bool)

	opMu sync.Mutex // serializes Start/Stop

	mu     sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoopSupervisor(name string, newTask func() func(ctx context.Context) error, metrics *Metrics, logger *slog.Logger) *loopSupervisor {
	return &loopSupervisor{
		name:    name,
		newTask: newTask,
		metrics: metrics,
		logger:  logger.With("loop", name),
	}
}

// Start launches a new loop instance under parent. It returns false when an
// instance is already running.
func (s *loopSupervisor) Start(parent context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Running() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	task := s.newTask()

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.metrics.SetLoopRunning(s.name, true)
	s.logger.Info("started loop")

	// The stopped notification must never overtake the started one.
	announced := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()

		err := task(ctx)
		if err != nil {
			s.logger.Error("loop terminated", "error", err)
			reportLoopFailure(s.name, err)
		}
		s.metrics.SetLoopRunning(s.name, false)

		<-announced
		s.notify(false)
	}()

	s.notify(true)
	close(announced)
	return true
}

// Stop cancels the running instance and waits for it to exit.
// It returns false when nothing was running.
func (s *loopSupervisor) Stop() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Info("stopped loop")
	return true
}

// Running reports whether an instance is currently executing.
func (s *loopSupervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *loopSupervisor) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *loopSupervisor) notify(running bool) {
	if s.onStateChange != nil {
		s.onStateChange(s.name, running)
	}
}
