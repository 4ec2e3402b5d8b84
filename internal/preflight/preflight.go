package preflight

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"aisio/internal/config"
	"aisio/internal/deps"
	"aisio/internal/wire"
)

// Role selects which side of the bridge is being checked.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// fdHeadroom covers descriptors used by the listener, logs, and the journal.
const fdHeadroom = 32

// RunAll executes the checks that apply to role.
func RunAll(cfg *config.Config, role Role) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckCharset(cfg.Codec.StringCharset),
	}
	if role == RoleServer {
		results = append(results, CheckOpenFileLimit(cfg.Server.MaxConnections))
	}
	if cfg.UsesExternalCodec() {
		results = append(results, CheckCommands(cfg)...)
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckOpenFileLimit compares RLIMIT_NOFILE with the configured connection
// cap. Unlimited connections only need the soft limit to be readable.
func CheckOpenFileLimit(maxConnections int) Result {
	const name = "Open file limit"
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("getrlimit failed: %v", err)}
	}
	if maxConnections <= 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("soft limit %d (connections unlimited)", limit.Cur)}
	}
	need := uint64(maxConnections) + fdHeadroom
	if limit.Cur < need {
		return Result{Name: name, Detail: fmt.Sprintf("soft limit %d below %d needed for %d connections (raise with ulimit -n)", limit.Cur, need, maxConnections)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("soft limit %d", limit.Cur)}
}

// CheckCharset verifies the string charset resolves.
func CheckCharset(name string) Result {
	const check = "String charset"
	if _, err := wire.CharsetByName(name); err != nil {
		return Result{Name: check, Detail: err.Error()}
	}
	if name == "" {
		name = "utf-8"
	}
	return Result{Name: check, Passed: true, Detail: name}
}

// CheckCommands verifies the external codec programs are on PATH.
func CheckCommands(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries([]deps.Requirement{
		deps.FromArgv("Serialize command", "encodes outbound records", cfg.Codec.SerializeCommand),
		deps.FromArgv("Unserialize command", "decodes inbound records", cfg.Codec.UnserializeCommand),
	})
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Passed: s.Available, Detail: s.Detail}
		if s.Available {
			r.Detail = s.Path
		}
		results = append(results, r)
	}
	return results
}

// CheckListenAddress verifies addr can be bound. `aisio config validate` uses
// it to tell a free port from one held by another process.
func CheckListenAddress(addr string) Result {
	const name = "Listen address"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (in use or not bindable: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}
