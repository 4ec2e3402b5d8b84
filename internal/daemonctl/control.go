package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"aisio/internal/api"
	"aisio/internal/config"
	"aisio/internal/daemon"
	"aisio/internal/transport"
)

// ErrDaemonNotRunning indicates no live process owns the role.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// PIDPath returns the pid file written next to the role lock.
func PIDPath(cfg *config.Config, role transport.Role) string {
	return strings.TrimSuffix(daemon.LockPath(cfg, role), ".lock") + ".pid"
}

// WritePIDFile records the current process id at path.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the pid stored at path, or 0 when the file is absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q: invalid pid %q", path, pidStr)
	}
	return pid, nil
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProcessInfo returns whether the role's pid file points at a live process.
func ProcessInfo(cfg *config.Config, role transport.Role) (bool, int, error) {
	pid, err := ReadPIDFile(PIDPath(cfg, role))
	if err != nil {
		return false, 0, err
	}
	return ProcessAlive(pid), pid, nil
}

// WaitForShutdown polls until pid exits or timeout elapses.
func WaitForShutdown(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not stop within %s", pid, timeout)
}

// StopAndTerminate sends SIGTERM to the role's process and force-kills it if
// still alive after gracePeriod. Stale pid and lock files are removed.
func StopAndTerminate(cfg *config.Config, role transport.Role, gracePeriod time.Duration) (StopResult, error) {
	pidPath := PIDPath(cfg, role)
	alive, pid, err := ProcessInfo(cfg, role)
	if err != nil {
		return StopResult{}, err
	}
	if !alive {
		if pid > 0 {
			_ = os.Remove(pidPath)
		}
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, syscall.SIGTERM); err != nil {
		return result, fmt.Errorf("signal process %d: %w", pid, err)
	}
	if WaitForShutdown(pid, gracePeriod) == nil {
		return result, nil
	}

	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	_ = os.Remove(daemon.LockPath(cfg, role))
	result.ForcedKill = true
	return result, nil
}

// BuildStatusSnapshot asks the running process for its status. When the
// status API is unreachable it falls back to pid and lock file inspection.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config, role transport.Role) (api.Status, error) {
	if cfg == nil {
		return api.Status{}, errors.New("configuration not available")
	}

	if client, err := api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken); err == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status, statusErr := client.Status(queryCtx)
		cancel()
		if statusErr == nil && status.Role == string(role) {
			return status, nil
		}
	}

	status := api.Status{
		Role:         string(role),
		LockFilePath: daemon.LockPath(cfg, role),
		Connections:  []api.Connection{},
	}
	if role == transport.RoleServer {
		status.Address = cfg.ServerAddress()
	} else {
		status.Address = cfg.ClientAddress()
	}
	alive, pid, err := ProcessInfo(cfg, role)
	if err != nil {
		return status, err
	}
	status.Running = alive
	if alive {
		status.PID = pid
		status.LastError = "status api unavailable"
	}
	if cfg.Journal.Enabled {
		status.JournalPath = cfg.Journal.Path
	}
	return status, nil
}
