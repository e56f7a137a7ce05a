package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSender records everything the loops send over OSC.
type fakeSender struct {
	mu        sync.Mutex
	movements []MovementOutput
	params    []sentParameter
	err       error
}

type sentParameter struct {
	Name  string
	Value any
}

func (f *fakeSender) SendMovement(m MovementOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.movements = append(f.movements, m)
	return nil
}

func (f *fakeSender) SendParameter(name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.params = append(f.params, sentParameter{Name: name, Value: value})
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) sentMovements() []MovementOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MovementOutput(nil), f.movements...)
}

func (f *fakeSender) sentParams() []sentParameter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentParameter(nil), f.params...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLoop returns a loop whose reset delays return immediately.
func newTestLoop(params ParameterSource, settings *LiveSettings, sender oscSender) *leashLoop {
	l := newLeashLoop(params, settings, sender, DefaultLoopConfig(), nil, discardLogger())
	l.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return l
}

func setParams(t *testing.T, s *ParameterStore, values map[string]any) {
	t.Helper()
	for name, v := range values {
		if err := s.Set(name, oscAvatarParameterPrefix+name, v); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
}

func TestLeashLoop_ResetProtocolIsBounded(t *testing.T) {
	ctx := context.Background()

	store := NewParameterStore() // every collider reads 0
	settings := NewLiveSettings(DefaultThresholds(), Behavior{ResetOnNullInput: true})
	sender := &fakeSender{}
	l := newTestLoop(store, settings, sender)

	for i := 1; i <= 3; i++ {
		outcome, err := l.tick(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if outcome != tickReset {
			t.Fatalf("tick %d outcome=%s, want %s", i, outcome, tickReset)
		}
		if l.retryCount != i {
			t.Fatalf("tick %d retryCount=%d, want %d", i, l.retryCount, i)
		}
	}

	params := sender.sentParams()
	if len(params) != 6 {
		t.Fatalf("sent %d parameters, want 6 (off/on x3)", len(params))
	}
	for i, p := range params {
		want := i%2 == 1
		if p.Name != paramEnabled || p.Value != want {
			t.Fatalf("param[%d]=%+v, want %s=%v", i, p, paramEnabled, want)
		}
	}

	// Fourth degenerate tick: exhausted, no toggle.
	if _, err := l.tick(ctx); err != nil {
		t.Fatalf("tick 4: %v", err)
	}
	if l.retryCount != 4 {
		t.Fatalf("retryCount=%d, want 4", l.retryCount)
	}
	if n := len(sender.sentParams()); n != 6 {
		t.Fatalf("exhausted tick sent parameters (total %d)", n)
	}

	// Still degenerate: stays exhausted.
	if _, err := l.tick(ctx); err != nil {
		t.Fatalf("tick 5: %v", err)
	}
	if l.retryCount != 4 || len(sender.sentParams()) != 6 {
		t.Fatalf("retryCount=%d params=%d, want 4 and 6", l.retryCount, len(sender.sentParams()))
	}

	// Condition clears: counter returns to 0.
	setParams(t, store, map[string]any{paramFront: float32(0.5)})
	if _, err := l.tick(ctx); err != nil {
		t.Fatalf("tick 6: %v", err)
	}
	if l.retryCount != 0 {
		t.Fatalf("retryCount=%d after condition cleared, want 0", l.retryCount)
	}
}

func TestLeashLoop_ResetDisabledComputesMovement(t *testing.T) {
	store := NewParameterStore()
	settings := NewLiveSettings(DefaultThresholds(), Behavior{ResetOnNullInput: false})
	sender := &fakeSender{}
	l := newTestLoop(store, settings, sender)

	outcome, err := l.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if outcome != tickUnchanged {
		t.Fatalf("outcome=%s, want %s", outcome, tickUnchanged)
	}
	if len(sender.sentParams()) != 0 {
		t.Fatalf("reset protocol ran while disabled")
	}
}

func TestLeashLoop_SuppressesDuplicateEmission(t *testing.T) {
	ctx := context.Background()

	store := NewParameterStore()
	setParams(t, store, map[string]any{
		paramIsGrabbed: true,
		paramStretch:   float32(0.5),
		paramFront:     float32(0.8),
		paramBack:      float32(0.2),
	})
	settings := NewLiveSettings(DefaultThresholds(), Behavior{})
	sender := &fakeSender{}
	l := newTestLoop(store, settings, sender)

	var observed int
	l.onMovement = func(MovementOutput) { observed++ }

	first, _ := l.tick(ctx)
	second, _ := l.tick(ctx)
	if first != tickEmitted || second != tickUnchanged {
		t.Fatalf("outcomes=(%s,%s), want (emitted,unchanged)", first, second)
	}
	if n := len(sender.sentMovements()); n != 1 {
		t.Fatalf("emitted %d movements, want 1", n)
	}
	if observed != 2 {
		t.Fatalf("observer called %d times, want 2", observed)
	}

	setParams(t, store, map[string]any{paramFront: float32(0.6)})
	if outcome, _ := l.tick(ctx); outcome != tickEmitted {
		t.Fatalf("outcome after change=%s, want emitted", outcome)
	}
	if n := len(sender.sentMovements()); n != 2 {
		t.Fatalf("emitted %d movements, want 2", n)
	}
}

func TestLeashLoop_DisabledSkipsTick(t *testing.T) {
	store := NewParameterStore()
	setParams(t, store, map[string]any{paramIsGrabbed: true, paramStretch: float32(0.9), paramFront: float32(1)})

	th := DefaultThresholds()
	th.LeashEnabled = false
	settings := NewLiveSettings(th, Behavior{ResetOnNullInput: true})
	sender := &fakeSender{}
	l := newTestLoop(store, settings, sender)

	outcome, err := l.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if outcome != tickDisabled {
		t.Fatalf("outcome=%s, want %s", outcome, tickDisabled)
	}
	if len(sender.sentMovements()) != 0 || len(sender.sentParams()) != 0 {
		t.Fatalf("disabled tick sent output")
	}
}

func TestLeashLoop_SendErrorRetriesNextTick(t *testing.T) {
	ctx := context.Background()

	store := NewParameterStore()
	setParams(t, store, map[string]any{paramIsGrabbed: true, paramStretch: float32(0.6), paramFront: float32(0.5)})
	settings := NewLiveSettings(DefaultThresholds(), Behavior{})
	sender := &fakeSender{}
	sender.setErr(errors.New("network down"))
	l := newTestLoop(store, settings, sender)

	outcome, err := l.tick(ctx)
	if err != nil {
		t.Fatalf("send error must not be fatal: %v", err)
	}
	if outcome != tickSendError {
		t.Fatalf("outcome=%s, want %s", outcome, tickSendError)
	}
	if l.previous != (MovementOutput{}) {
		t.Fatalf("previous updated after failed send: %+v", l.previous)
	}

	sender.setErr(nil)
	if outcome, _ := l.tick(ctx); outcome != tickEmitted {
		t.Fatalf("outcome after recovery=%s, want emitted", outcome)
	}
}

func TestLeashLoop_UsesSelectedCalculator(t *testing.T) {
	store := NewParameterStore()
	setParams(t, store, map[string]any{paramIsGrabbed: true, paramStretch: float32(1), paramFront: float32(0.2)})
	settings := NewLiveSettings(DefaultThresholds(), Behavior{Calculator: CalculatorStretch})
	sender := &fakeSender{}
	l := newTestLoop(store, settings, sender)

	if _, err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := sender.sentMovements()
	if len(got) != 1 || !approxEqual(got[0].VerticalOffset, 1) {
		t.Fatalf("movements=%+v, want stretch vertical 1", got)
	}
}

func TestLeashLoop_CancelDuringResetDelay(t *testing.T) {
	store := NewParameterStore()
	settings := NewLiveSettings(DefaultThresholds(), Behavior{ResetOnNullInput: true})
	sender := &fakeSender{}

	cfg := DefaultLoopConfig()
	cfg.TickInterval = time.Millisecond
	cfg.ResetDelay = time.Hour
	l := newLeashLoop(store, settings, sender, cfg, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.run(ctx) }()

	waitUntil(t, time.Second, func() bool {
		return len(sender.sentParams()) >= 1
	}, "reset protocol did not start")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v on cancellation, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	// Only the "off" toggle went out; the wait was interrupted.
	if params := sender.sentParams(); len(params) != 1 || params[0].Value != false {
		t.Fatalf("params=%+v, want a single Leash_Enabled=false", params)
	}
}

type panicSource struct{}

func (panicSource) Snapshot() ParameterSnapshot { panic("boom") }

func TestLeashLoop_PanicTerminatesLoop(t *testing.T) {
	settings := NewLiveSettings(DefaultThresholds(), Behavior{})
	cfg := DefaultLoopConfig()
	cfg.TickInterval = time.Millisecond
	l := newLeashLoop(panicSource{}, settings, &fakeSender{}, cfg, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- l.run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error from panicking tick")
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not terminate after panic")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext on canceled ctx=%v, want context.Canceled", err)
	}
}
