package daemonctl

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"aisio/internal/testsupport"
	"aisio/internal/transport"
)

func TestPIDPathSitsNextToLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithServerPort(7100))
	want := filepath.Join(cfg.Paths.StateDir, "aisio-server-7100.pid")
	if got := PIDPath(cfg, transport.RoleServer); got != want {
		t.Fatalf("PIDPath = %q, want %q", got, want)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	if pid, err := ReadPIDFile(path); err != nil || pid != 0 {
		t.Fatalf("missing pid file: pid=%d err=%v", pid, err)
	}
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected %d, got %d", os.Getpid(), pid)
	}
	if !ProcessAlive(pid) {
		t.Fatal("current process should be alive")
	}

	if err := os.WriteFile(path, []byte("nope\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("expected error for invalid pid")
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := StopAndTerminate(cfg, transport.RoleServer, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopAndTerminateSignalsProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	pidPath := PIDPath(cfg, transport.RoleClient)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	result, err := StopAndTerminate(cfg, transport.RoleClient, 2*time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if result.PID != cmd.Process.Pid {
		t.Fatalf("unexpected pid %d", result.PID)
	}
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithServerPort(7200))
	cfg.Paths.APIBind = "127.0.0.1:" + strconv.Itoa(testsupport.FreePort(t))

	status, err := BuildStatusSnapshot(context.Background(), cfg, transport.RoleServer)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("expected offline status")
	}
	if status.Role != "server" || status.Address != "127.0.0.1:7200" {
		t.Fatalf("unexpected status %#v", status)
	}
	if status.LockFilePath != filepath.Join(cfg.Paths.StateDir, "aisio-server-7200.lock") {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
}
