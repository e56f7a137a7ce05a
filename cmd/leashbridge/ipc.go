package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets leash-ctl and scripts control the daemon:
//   - Start/stop the leash and counter loops
//   - Change calculator, thresholds and reset behavior at runtime
//   - Emergency stop
//   - Query status
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "command_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or {"status": "error", "error": "msg"}
// ============================================================================

// commandExecutor runs a decoded command. Implemented by *Controller.
type commandExecutor interface {
	Execute(ctx context.Context, cmd Command) (any, error)
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // error message if status == "error"
	Data   json.RawMessage `json:"data,omitempty"`  // command result (status, thresholds)
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, exec commandExecutor, metrics *Metrics, logger *slog.Logger) error {
	// Remove a stale socket file from a previous run
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Owner and group only: the socket can stop or redirect avatar movement.
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, exec, metrics, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, exec commandExecutor, metrics *Metrics, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		response := handleIPCLine(ctx, []byte(line), exec, metrics, logger)
		if err := encoder.Encode(response); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// handleIPCLine decodes and executes one request line.
func handleIPCLine(ctx context.Context, line []byte, exec commandExecutor, metrics *Metrics, logger *slog.Logger) IPCResponse {
	cmd, err := UnmarshalCommand(line)
	if err != nil {
		metrics.ObserveIPCCommand("invalid", "error")
		return IPCResponse{
			Status: "error",
			Error:  fmt.Sprintf("parse command: %v", err),
		}
	}

	kind, _ := commandType(cmd)

	result, err := exec.Execute(ctx, cmd)
	if err != nil {
		metrics.ObserveIPCCommand(kind, "error")
		logger.Warn("IPC command failed", "type", kind, "error", err)
		return IPCResponse{Status: "error", Error: err.Error()}
	}

	resp := IPCResponse{Status: "ok"}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			metrics.ObserveIPCCommand(kind, "error")
			return IPCResponse{Status: "error", Error: fmt.Sprintf("marshal result: %v", err)}
		}
		resp.Data = data
	}

	metrics.ObserveIPCCommand(kind, "ok")
	logger.Debug("IPC command executed", "type", kind)
	return resp
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================

// SendIPCCommand sends a command to the daemon and returns the response data.
func SendIPCCommand(socketPath string, cmd Command) (json.RawMessage, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return nil, fmt.Errorf("ipc error: %s", resp.Error)
	}

	return resp.Data, nil
}
