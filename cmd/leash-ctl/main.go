package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// leash-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the leashbridge daemon via IPC.
//
// Usage:
//   leash-ctl enable
//   leash-ctl calculator stretch
//   leash-ctl threshold turning_goal 0.8
//   leash-ctl stop
//   leash-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/leashbridge.sock)
// ============================================================================

// CommandEnvelope wraps commands for JSON (mirrors the daemon's wire format)
type CommandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// thresholdNames are the keys accepted by set_thresholds.
var thresholdNames = map[string]bool{
	"leash_enabled":           true,
	"stretch_threshold":       true,
	"running_upper_threshold": true,
	"running_lower_threshold": true,
	"turning_threshold":       true,
	"turning_goal":            true,
	"turning_multiplier":      true,
	"counter_enabled":         true,
	"counter_threshold":       true,
}

func main() {
	socketPath := "/tmp/leashbridge.sock"

	// Parse arguments
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Parse command
	var env CommandEnvelope

	switch args[0] {
	case "enable", "on":
		env.Type = "leash_enable"

	case "disable", "off":
		env.Type = "leash_disable"

	case "counter-on":
		env.Type = "counter_enable"

	case "counter-off":
		env.Type = "counter_disable"

	case "counter-reset":
		env.Type = "counter_reset"

	case "stop", "emergency-stop":
		env.Type = "emergency_stop"

	case "status":
		env.Type = "status"

	case "calculator", "calc":
		if len(args) < 2 {
			fatalf("calculator requires a name (location, stretch, combined)")
		}
		env.Type = "set_calculator"
		env.Data = mustMarshal(map[string]string{"calculator": args[1]})

	case "reset-on-null":
		if len(args) < 2 {
			fatalf("reset-on-null requires on or off")
		}
		enabled, err := parseOnOff(args[1])
		if err != nil {
			fatalf("%v", err)
		}
		env.Type = "set_reset_on_null_input"
		env.Data = mustMarshal(map[string]bool{"enabled": enabled})

	case "threshold", "set":
		if len(args) < 3 {
			fatalf("threshold requires a name and a value")
		}
		name := args[1]
		if !thresholdNames[name] {
			fatalf("unknown threshold: %s", name)
		}
		var value any
		if name == "leash_enabled" || name == "counter_enabled" {
			b, err := parseOnOff(args[2])
			if err != nil {
				fatalf("%v", err)
			}
			value = b
		} else {
			f, err := strconv.ParseFloat(args[2], 32)
			if err != nil {
				fatalf("invalid value for %s: %v", name, err)
			}
			value = f
		}
		env.Type = "set_thresholds"
		env.Data = mustMarshal(map[string]any{name: value})

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	// Send command
	data, err := sendCommand(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(data) == 0 {
		fmt.Println("ok")
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(out.String())
}

func sendCommand(socketPath string, env CommandEnvelope) (json.RawMessage, error) {
	// Connect to socket
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	// Send command (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	// Read response
	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return nil, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response.Data, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `leash-ctl - Control the leashbridge daemon via IPC

Usage:
  leash-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/leashbridge.sock)

Commands:
  enable, on                    Start the leash loop
  disable, off                  Stop the leash loop and release movement
  counter-on                    Start the counter loop
  counter-off                   Stop the counter loop
  counter-reset                 Zero the leash counter
  calculator, calc <name>       Select location, stretch or combined
  reset-on-null <on|off>        Toggle the automatic leash reset
  threshold, set <name> <value> Change one threshold (e.g. turning_goal 0.8)
  stop, emergency-stop          Disable everything and zero movement
  status                        Print daemon status as JSON
  help, -h, --help              Show this help message

Examples:
  leash-ctl calculator combined
  leash-ctl threshold stretch_threshold 0.25
  leash-ctl -socket /run/leashbridge.sock stop
`)
}
