package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeExecutor records commands and answers with a canned result.
type fakeExecutor struct {
	mu     sync.Mutex
	cmds   []Command
	result any
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.result, f.err
}

func (f *fakeExecutor) commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.cmds...)
}

func TestHandleIPCLine(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exec := &fakeExecutor{result: Thresholds{TurningGoal: 0.5}}

	resp := handleIPCLine(context.Background(), []byte(`{"type":"set_thresholds","data":{"turning_goal":0.5}}`), exec, metrics, discardLogger())
	if resp.Status != "ok" {
		t.Fatalf("status=%q error=%q", resp.Status, resp.Error)
	}
	var th Thresholds
	if err := json.Unmarshal(resp.Data, &th); err != nil || th.TurningGoal != 0.5 {
		t.Fatalf("data=%s err=%v", resp.Data, err)
	}

	resp = handleIPCLine(context.Background(), []byte(`{"type":"warp"}`), exec, metrics, discardLogger())
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown command type") {
		t.Fatalf("resp=%+v, want unknown command error", resp)
	}

	exec.err = errors.New("unknown calculator")
	resp = handleIPCLine(context.Background(), []byte(`{"type":"set_calculator","data":{"calculator":"x"}}`), exec, metrics, discardLogger())
	if resp.Status != "error" || resp.Error != "unknown calculator" {
		t.Fatalf("resp=%+v, want executor error", resp)
	}

	if got := testutil.ToFloat64(metrics.IPCCommands.WithLabelValues("set_thresholds", "ok")); got != 1 {
		t.Fatalf("ipc ok count=%v", got)
	}
	if got := testutil.ToFloat64(metrics.IPCCommands.WithLabelValues("invalid", "error")); got != 1 {
		t.Fatalf("ipc invalid count=%v", got)
	}
	if got := testutil.ToFloat64(metrics.IPCCommands.WithLabelValues("set_calculator", "error")); got != 1 {
		t.Fatalf("ipc set_calculator error count=%v", got)
	}
}

func TestIPCServer_RoundTrip(t *testing.T) {
	// Unix socket paths are length-limited; keep the directory short.
	dir, err := os.MkdirTemp("", "lb")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	socketPath := filepath.Join(dir, "ipc.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{result: Status{LeashRunning: true}}
	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, socketPath, exec, nil, discardLogger()) }()

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, "socket not created")

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o660 {
		t.Fatalf("socket perm=%o, want 660", perm)
	}

	data, err := SendIPCCommand(socketPath, StatusRequest{})
	if err != nil {
		t.Fatalf("SendIPCCommand: %v", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil || !st.LeashRunning {
		t.Fatalf("status=%s err=%v", data, err)
	}

	exec.mu.Lock()
	exec.result = nil
	exec.err = errors.New("boom")
	exec.mu.Unlock()
	if _, err := SendIPCCommand(socketPath, LeashEnable{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v, want ipc error containing boom", err)
	}

	cmds := exec.commands()
	if len(cmds) != 2 || cmds[0] != (StatusRequest{}) || cmds[1] != (LeashEnable{}) {
		t.Fatalf("commands=%#v", cmds)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runIPCServer: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("IPC server did not stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed on shutdown: %v", err)
	}
}
