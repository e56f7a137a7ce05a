package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick(tickEmitted)
	m.ObserveResetAttempt()
	m.ObserveResetExhausted()
	m.ObserveOSCReceived("parameter")
	m.ObserveOSCSendError()
	m.SetLoopRunning(loopLeash, true)
	m.SetCounterSeconds(12)
	m.ObserveIPCCommand("status", "ok")
	m.ObserveConfigReload("ok")
}

func TestMetrics_RecordsValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.ObserveTick(tickEmitted)
	m.ObserveTick(tickEmitted)
	m.ObserveResetAttempt()
	m.SetLoopRunning(loopCounter, true)
	m.SetCounterSeconds(42)

	if got := testutil.ToFloat64(m.Ticks.WithLabelValues(string(tickEmitted))); got != 2 {
		t.Fatalf("ticks=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResetAttempts); got != 1 {
		t.Fatalf("reset attempts=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoopRunning.WithLabelValues(loopCounter)); got != 1 {
		t.Fatalf("loop_running=%v, want 1", got)
	}
	m.SetLoopRunning(loopCounter, false)
	if got := testutil.ToFloat64(m.LoopRunning.WithLabelValues(loopCounter)); got != 0 {
		t.Fatalf("loop_running=%v, want 0", got)
	}
	if got := testutil.ToFloat64(m.CounterSeconds); got != 42 {
		t.Fatalf("counter seconds=%v, want 42", got)
	}
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	second, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second NewMetrics: %v", err)
	}

	first.ObserveOSCSendError()
	if got := testutil.ToFloat64(second.OSCSendErrors); got != 1 {
		t.Fatalf("second instance does not share collectors: %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ObserveIPCCommand("status", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `ipc_commands_total{status="ok",type="status"} 1`) {
		t.Fatalf("metrics body missing ipc counter:\n%s", body)
	}
}
