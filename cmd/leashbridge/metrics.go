package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so tests and tools can skip metrics entirely.
type Metrics struct {
	gatherer prometheus.Gatherer

	Ticks          *prometheus.CounterVec
	ResetAttempts  prometheus.Counter
	ResetExhausted prometheus.Counter
	OSCReceived    *prometheus.CounterVec
	OSCSendErrors  prometheus.Counter
	LoopRunning    *prometheus.GaugeVec
	CounterSeconds prometheus.Gauge
	IPCCommands    *prometheus.CounterVec
	ConfigReloads  *prometheus.CounterVec
}

// NewMetrics registers collectors against reg, defaulting to the global registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leash_ticks_total",
		Help: "Leash loop ticks, labeled by outcome (disabled, reset, unchanged, emitted, send_error).",
	}, []string{"outcome"}), "leash_ticks_total")
	if err != nil {
		return nil, err
	}

	resetAttempts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leash_reset_attempts_total",
		Help: "Leash_Enabled off/on toggles sent because all colliders read zero.",
	}), "leash_reset_attempts_total")
	if err != nil {
		return nil, err
	}

	resetExhausted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leash_reset_exhausted_total",
		Help: "Times the reset protocol gave up after the maximum number of attempts.",
	}), "leash_reset_exhausted_total")
	if err != nil {
		return nil, err
	}

	received, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osc_messages_received_total",
		Help: "OSC messages received, labeled by kind (parameter, avatar_change, ignored, invalid).",
	}, []string{"kind"}), "osc_messages_received_total")
	if err != nil {
		return nil, err
	}

	sendErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "osc_send_errors_total",
		Help: "OSC messages that failed to send.",
	}), "osc_send_errors_total")
	if err != nil {
		return nil, err
	}

	running, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loop_running",
		Help: "1 when the named loop (leash, counter) is running.",
	}, []string{"loop"}), "loop_running")
	if err != nil {
		return nil, err
	}

	counterSeconds, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "counter_elapsed_seconds",
		Help: "Current value of the leash time counter in seconds.",
	}), "counter_elapsed_seconds")
	if err != nil {
		return nil, err
	}

	ipcCommands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipc_commands_total",
		Help: "IPC commands handled, labeled by type and status.",
	}, []string{"type", "status"}), "ipc_commands_total")
	if err != nil {
		return nil, err
	}

	reloads, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_reloads_total",
		Help: "Config file reloads, labeled by result (ok, error).",
	}, []string{"result"}), "config_reloads_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:       gatherer,
		Ticks:          ticks,
		ResetAttempts:  resetAttempts,
		ResetExhausted: resetExhausted,
		OSCReceived:    received,
		OSCSendErrors:  sendErrors,
		LoopRunning:    running,
		CounterSeconds: counterSeconds,
		IPCCommands:    ipcCommands,
		ConfigReloads:  reloads,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(outcome tickOutcome) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveResetAttempt() {
	if m == nil {
		return
	}
	m.ResetAttempts.Inc()
}

func (m *Metrics) ObserveResetExhausted() {
	if m == nil {
		return
	}
	m.ResetExhausted.Inc()
}

func (m *Metrics) ObserveOSCReceived(kind string) {
	if m == nil {
		return
	}
	m.OSCReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOSCSendError() {
	if m == nil {
		return
	}
	m.OSCSendErrors.Inc()
}

func (m *Metrics) SetLoopRunning(loop string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.LoopRunning.WithLabelValues(loop).Set(v)
}

func (m *Metrics) SetCounterSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.CounterSeconds.Set(seconds)
}

func (m *Metrics) ObserveIPCCommand(kind, status string) {
	if m == nil {
		return
	}
	m.IPCCommands.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveConfigReload(result string) {
	if m == nil {
		return
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
