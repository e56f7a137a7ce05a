package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Control Commands - IPC wire types
// ============================================================================
// Commands are sent by leash-ctl (or any script) over the IPC socket and are
// executed directly against the Controller.
//
// Wire format (one JSON object per line):
//   {"type": "set_calculator", "data": {"calculator": "stretch"}}
// ============================================================================

// Command is a marker interface for all control commands.
type Command interface {
	commandMarker()
}

// LeashEnable starts the leash loop.
type LeashEnable struct{}

// LeashDisable stops the leash loop and releases the movement inputs.
type LeashDisable struct{}

// CounterEnable starts the counter loop.
type CounterEnable struct{}

// CounterDisable stops the counter loop.
type CounterDisable struct{}

// SetCalculator selects the movement strategy by name.
type SetCalculator struct {
	Calculator string `json:"calculator"`
}

// SetResetOnNullInput toggles the automatic leash reset protocol.
type SetResetOnNullInput struct {
	Enabled bool `json:"enabled"`
}

// SetThresholds patches the live thresholds; omitted fields keep their value.
type SetThresholds struct {
	ThresholdsPatch
}

// EmergencyStop disables leash and counter and zeroes the movement inputs.
type EmergencyStop struct{}

// CounterReset zeroes the leash counter.
type CounterReset struct{}

// StatusRequest asks for a Status snapshot in the response data.
type StatusRequest struct{}

func (LeashEnable) commandMarker()         {}
func (LeashDisable) commandMarker()        {}
func (CounterEnable) commandMarker()       {}
func (CounterDisable) commandMarker()      {}
func (SetCalculator) commandMarker()       {}
func (SetResetOnNullInput) commandMarker() {}
func (SetThresholds) commandMarker()       {}
func (EmergencyStop) commandMarker()       {}
func (CounterReset) commandMarker()        {}
func (StatusRequest) commandMarker()       {}

// CommandEnvelope wraps a command with a type discriminator for JSON marshaling.
type CommandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// commandType returns the wire discriminator for c.
func commandType(c Command) (string, error) {
	switch c.(type) {
	case LeashEnable:
		return "leash_enable", nil
	case LeashDisable:
		return "leash_disable", nil
	case CounterEnable:
		return "counter_enable", nil
	case CounterDisable:
		return "counter_disable", nil
	case SetCalculator:
		return "set_calculator", nil
	case SetResetOnNullInput:
		return "set_reset_on_null_input", nil
	case SetThresholds:
		return "set_thresholds", nil
	case EmergencyStop:
		return "emergency_stop", nil
	case CounterReset:
		return "counter_reset", nil
	case StatusRequest:
		return "status", nil
	default:
		return "", fmt.Errorf("unsupported command type: %T", c)
	}
}

// UnmarshalCommand decodes a JSON envelope into a concrete Command.
func UnmarshalCommand(data []byte) (Command, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "leash_enable":
		return LeashEnable{}, nil
	case "leash_disable":
		return LeashDisable{}, nil
	case "counter_enable":
		return CounterEnable{}, nil
	case "counter_disable":
		return CounterDisable{}, nil
	case "emergency_stop":
		return EmergencyStop{}, nil
	case "counter_reset":
		return CounterReset{}, nil
	case "status":
		return StatusRequest{}, nil

	case "set_calculator":
		var c SetCalculator
		if err := unmarshalData(env.Data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal SetCalculator: %w", err)
		}
		if c.Calculator == "" {
			return nil, fmt.Errorf("set_calculator: calculator is required")
		}
		return c, nil

	case "set_reset_on_null_input":
		var c SetResetOnNullInput
		if err := unmarshalData(env.Data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal SetResetOnNullInput: %w", err)
		}
		return c, nil

	case "set_thresholds":
		var c SetThresholds
		if err := unmarshalData(env.Data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal SetThresholds: %w", err)
		}
		return c, nil

	case "":
		return nil, fmt.Errorf("missing command type")

	default:
		return nil, fmt.Errorf("unknown command type: %q", env.Type)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, v)
}

// MarshalCommand serializes a Command into a JSON envelope.
func MarshalCommand(c Command) ([]byte, error) {
	typ, err := commandType(c)
	if err != nil {
		return nil, err
	}
	env := CommandEnvelope{Type: typ}

	switch c.(type) {
	case SetCalculator, SetResetOnNullInput, SetThresholds:
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", c, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
