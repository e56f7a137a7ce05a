package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the leashbridge daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The file is the primary configuration surface; flags
// are small overrides on top of it.
type Config struct {
	// OSC transport (VRChat)
	OSC OSCConfig `yaml:"osc"`

	// Leash loop behavior and timing
	Leash LeashConfig `yaml:"leash"`

	// Movement and counter thresholds (live-reloadable)
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Leash counter loop
	Counter CounterConfig `yaml:"counter"`

	// IPC control socket
	IPC IPCConfig `yaml:"ipc"`

	// HTTP server (state WS, metrics, health)
	HTTP HTTPConfig `yaml:"http"`

	// Error reporting
	Sentry SentryConfig `yaml:"sentry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type OSCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	SendAddr   string `yaml:"send_addr"`
}

type LeashConfig struct {
	Enabled          bool    `yaml:"enabled"`    // run the leash loop at startup
	Calculator       string  `yaml:"calculator"` // location|stretch|combined
	ResetOnNullInput bool    `yaml:"reset_on_null_input"`
	TickMS           int     `yaml:"tick_ms"`
	ResetDelayMS     int     `yaml:"reset_delay_ms"`
	MaxResetAttempts int     `yaml:"max_reset_attempts"`
	CombinedCutover  float32 `yaml:"combined_cutover"`
}

// ThresholdsConfig is the YAML form of Thresholds.
type ThresholdsConfig struct {
	LeashEnabled      bool    `yaml:"leash_enabled"`
	Stretch           float32 `yaml:"stretch"`
	RunningUpper      float32 `yaml:"running_upper"`
	RunningLower      float32 `yaml:"running_lower"`
	TurningThreshold  float32 `yaml:"turning_threshold"`
	TurningGoal       float32 `yaml:"turning_goal"`
	TurningMultiplier float32 `yaml:"turning_multiplier"`
	CounterEnabled    bool    `yaml:"counter_enabled"`
	CounterThreshold  float32 `yaml:"counter_threshold"`
}

type CounterConfig struct {
	Enabled    bool `yaml:"enabled"` // run the counter loop at startup
	IntervalMS int  `yaml:"interval_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the HTTP server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	t := DefaultThresholds()
	return Config{
		OSC: OSCConfig{
			ListenAddr: defaultOSCListenAddr,
			SendAddr:   defaultOSCSendAddr,
		},
		Leash: LeashConfig{
			Enabled:          true,
			Calculator:       CalculatorLocation.String(),
			ResetOnNullInput: false,
			TickMS:           int(defaultTickInterval / time.Millisecond),
			ResetDelayMS:     int(defaultResetDelay / time.Millisecond),
			MaxResetAttempts: defaultMaxResetAttempts,
			CombinedCutover:  defaultCombinedCutover,
		},
		Thresholds: ThresholdsConfig{
			LeashEnabled:      t.LeashEnabled,
			Stretch:           t.StretchThreshold,
			RunningUpper:      t.RunningUpperThreshold,
			RunningLower:      t.RunningLowerThreshold,
			TurningThreshold:  t.TurningThreshold,
			TurningGoal:       t.TurningGoal,
			TurningMultiplier: t.TurningMultiplier,
			CounterEnabled:    t.CounterEnabled,
			CounterThreshold:  t.CounterThreshold,
		},
		Counter: CounterConfig{
			Enabled:    false,
			IntervalMS: int(defaultCounterInterval / time.Millisecond),
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			ListenAddr: defaultHTTPAddr,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty file is a valid "all defaults" config.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	} else if !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	return cfg, nil
}

// FlagOverrides applies command-line overrides on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	OSCListenAddr *string
	OSCSendAddr   *string

	LeashEnabled     *bool
	Calculator       *string
	ResetOnNullInput *bool

	CounterEnabled *bool

	IPCSocketPath  *string
	HTTPListenAddr *string

	SentryDSN *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value
// is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.OSCListenAddr != nil {
		cfg.OSC.ListenAddr = *o.OSCListenAddr
	}
	if o.OSCSendAddr != nil {
		cfg.OSC.SendAddr = *o.OSCSendAddr
	}

	if o.LeashEnabled != nil {
		cfg.Leash.Enabled = *o.LeashEnabled
	}
	if o.Calculator != nil {
		cfg.Leash.Calculator = *o.Calculator
	}
	if o.ResetOnNullInput != nil {
		cfg.Leash.ResetOnNullInput = *o.ResetOnNullInput
	}

	if o.CounterEnabled != nil {
		cfg.Counter.Enabled = *o.CounterEnabled
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListenAddr != nil {
		cfg.HTTP.ListenAddr = *o.HTTPListenAddr
	}

	if o.SentryDSN != nil {
		cfg.Sentry.DSN = *o.SentryDSN
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config values and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// OSC
	if _, _, err := splitHostPort(c.OSC.ListenAddr); err != nil {
		return fmt.Errorf("osc.listen_addr: %w", err)
	}
	if _, _, err := splitHostPort(c.OSC.SendAddr); err != nil {
		return fmt.Errorf("osc.send_addr: %w", err)
	}

	// Leash
	if _, err := ParseCalculatorType(c.Leash.Calculator); err != nil {
		return fmt.Errorf("leash.calculator: %w", err)
	}
	if c.Leash.TickMS <= 0 || c.Leash.TickMS > 1000 {
		return errors.New("leash.tick_ms must be between 1 and 1000")
	}
	if c.Leash.ResetDelayMS < 0 {
		return errors.New("leash.reset_delay_ms must be >= 0")
	}
	if c.Leash.MaxResetAttempts < 0 {
		return errors.New("leash.max_reset_attempts must be >= 0")
	}
	if c.Leash.CombinedCutover <= 0 || c.Leash.CombinedCutover > 1 {
		return errors.New("leash.combined_cutover must be in (0, 1]")
	}

	// Thresholds
	if err := c.ToThresholds().Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	// Counter
	if c.Counter.IntervalMS <= 0 {
		return errors.New("counter.interval_ms must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToThresholds converts the file thresholds into the live form.
func (c *Config) ToThresholds() Thresholds {
	return Thresholds{
		LeashEnabled:          c.Thresholds.LeashEnabled,
		StretchThreshold:      c.Thresholds.Stretch,
		RunningUpperThreshold: c.Thresholds.RunningUpper,
		RunningLowerThreshold: c.Thresholds.RunningLower,
		TurningThreshold:      c.Thresholds.TurningThreshold,
		TurningGoal:           c.Thresholds.TurningGoal,
		TurningMultiplier:     c.Thresholds.TurningMultiplier,
		CounterEnabled:        c.Thresholds.CounterEnabled,
		CounterThreshold:      c.Thresholds.CounterThreshold,
	}
}

// ToBehavior converts the leash section into Behavior. An unparseable
// calculator falls back to Location; Validate rejects it first.
func (c *Config) ToBehavior() Behavior {
	calc, _ := ParseCalculatorType(c.Leash.Calculator)
	return Behavior{
		ResetOnNullInput: c.Leash.ResetOnNullInput,
		Calculator:       calc,
	}
}

// ToLoopConfig converts the leash timing fields into a LoopConfig.
func (c *Config) ToLoopConfig() LoopConfig {
	return LoopConfig{
		TickInterval:     time.Duration(c.Leash.TickMS) * time.Millisecond,
		ResetDelay:       time.Duration(c.Leash.ResetDelayMS) * time.Millisecond,
		MaxResetAttempts: c.Leash.MaxResetAttempts,
		CombinedCutover:  c.Leash.CombinedCutover,
	}
}

// CounterInterval returns the counter loop period.
func (c *Config) CounterInterval() time.Duration {
	return time.Duration(c.Counter.IntervalMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
