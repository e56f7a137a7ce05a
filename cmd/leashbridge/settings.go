package main

import (
	"errors"
	"fmt"
	"sync"
)

// Thresholds are the user-tunable limits read by the loops on every tick.
type Thresholds struct {
	LeashEnabled bool `json:"leash_enabled"`

	StretchThreshold      float32 `json:"stretch_threshold"`
	RunningUpperThreshold float32 `json:"running_upper_threshold"`
	RunningLowerThreshold float32 `json:"running_lower_threshold"`
	TurningThreshold      float32 `json:"turning_threshold"`
	TurningGoal           float32 `json:"turning_goal"`
	TurningMultiplier     float32 `json:"turning_multiplier"`

	CounterEnabled   bool    `json:"counter_enabled"`
	CounterThreshold float32 `json:"counter_threshold"`
}

// DefaultThresholds returns the out-of-the-box tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LeashEnabled:          true,
		StretchThreshold:      defaultStretchThreshold,
		RunningUpperThreshold: defaultRunningUpperThreshold,
		RunningLowerThreshold: defaultRunningLowerThreshold,
		TurningThreshold:      defaultTurningThreshold,
		TurningGoal:           defaultTurningGoal,
		TurningMultiplier:     defaultTurningMultiplier,
		CounterEnabled:        true,
		CounterThreshold:      defaultCounterThreshold,
	}
}

// Validate checks that ratios are in [0, 1] and the running band is ordered.
func (t Thresholds) Validate() error {
	for _, f := range []struct {
		name string
		v    float32
	}{
		{"stretch_threshold", t.StretchThreshold},
		{"running_upper_threshold", t.RunningUpperThreshold},
		{"running_lower_threshold", t.RunningLowerThreshold},
		{"turning_threshold", t.TurningThreshold},
		{"turning_goal", t.TurningGoal},
		{"counter_threshold", t.CounterThreshold},
	} {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", f.name)
		}
	}
	if t.RunningLowerThreshold > t.RunningUpperThreshold {
		return errors.New("running_lower_threshold must be <= running_upper_threshold")
	}
	if t.TurningMultiplier < 0 {
		return errors.New("turning_multiplier must be >= 0")
	}
	return nil
}

// ThresholdsPatch is a partial update. Nil fields are left untouched.
type ThresholdsPatch struct {
	LeashEnabled *bool `json:"leash_enabled,omitempty"`

	StretchThreshold      *float32 `json:"stretch_threshold,omitempty"`
	RunningUpperThreshold *float32 `json:"running_upper_threshold,omitempty"`
	RunningLowerThreshold *float32 `json:"running_lower_threshold,omitempty"`
	TurningThreshold      *float32 `json:"turning_threshold,omitempty"`
	TurningGoal           *float32 `json:"turning_goal,omitempty"`
	TurningMultiplier     *float32 `json:"turning_multiplier,omitempty"`

	CounterEnabled   *bool    `json:"counter_enabled,omitempty"`
	CounterThreshold *float32 `json:"counter_threshold,omitempty"`
}

// Apply merges the patch into t.
func (p ThresholdsPatch) Apply(t *Thresholds) {
	if p.LeashEnabled != nil {
		t.LeashEnabled = *p.LeashEnabled
	}
	if p.StretchThreshold != nil {
		t.StretchThreshold = *p.StretchThreshold
	}
	if p.RunningUpperThreshold != nil {
		t.RunningUpperThreshold = *p.RunningUpperThreshold
	}
	if p.RunningLowerThreshold != nil {
		t.RunningLowerThreshold = *p.RunningLowerThreshold
	}
	if p.TurningThreshold != nil {
		t.TurningThreshold = *p.TurningThreshold
	}
	if p.TurningGoal != nil {
		t.TurningGoal = *p.TurningGoal
	}
	if p.TurningMultiplier != nil {
		t.TurningMultiplier = *p.TurningMultiplier
	}
	if p.CounterEnabled != nil {
		t.CounterEnabled = *p.CounterEnabled
	}
	if p.CounterThreshold != nil {
		t.CounterThreshold = *p.CounterThreshold
	}
}

// Behavior holds the leash options that are not numeric thresholds.
type Behavior struct {
	ResetOnNullInput bool           `json:"reset_on_null_input"`
	Calculator       CalculatorType `json:"calculator"`
}

// SettingsSnapshot is a consistent copy of the live settings.
type SettingsSnapshot struct {
	Thresholds Thresholds
	Behavior   Behavior
}

// LiveSettings is the shared, mutable settings container.
// Writers are the IPC handler and the config reloader; readers are the loops.
type LiveSettings struct {
	mu         sync.RWMutex
	thresholds Thresholds
	behavior   Behavior
}

// NewLiveSettings creates a container with initial values.
func NewLiveSettings(t Thresholds, b Behavior) *LiveSettings {
	return &LiveSettings{thresholds: t, behavior: b}
}

// Snapshot returns thresholds and behavior read under one lock.
func (s *LiveSettings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{Thresholds: s.thresholds, Behavior: s.behavior}
}

func (s *LiveSettings) Thresholds() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

func (s *LiveSettings) SetThresholds(t Thresholds) {
	s.mu.Lock()
	s.thresholds = t
	s.mu.Unlock()
}

// PatchThresholds applies p when the result validates and returns the
// resulting thresholds. An invalid patch leaves the settings untouched.
func (s *LiveSettings) PatchThresholds(p ThresholdsPatch) (Thresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.thresholds
	p.Apply(&next)
	if err := next.Validate(); err != nil {
		return Thresholds{}, err
	}
	s.thresholds = next
	return next, nil
}

func (s *LiveSettings) SetLeashEnabled(enabled bool) {
	s.mu.Lock()
	s.thresholds.LeashEnabled = enabled
	s.mu.Unlock()
}

func (s *LiveSettings) SetCounterEnabled(enabled bool) {
	s.mu.Lock()
	s.thresholds.CounterEnabled = enabled
	s.mu.Unlock()
}

func (s *LiveSettings) SetBehavior(b Behavior) {
	s.mu.Lock()
	s.behavior = b
	s.mu.Unlock()
}

func (s *LiveSettings) SetCalculator(c CalculatorType) {
	s.mu.Lock()
	s.behavior.Calculator = c
	s.mu.Unlock()
}

func (s *LiveSettings) SetResetOnNullInput(enabled bool) {
	s.mu.Lock()
	s.behavior.ResetOnNullInput = enabled
	s.mu.Unlock()
}
