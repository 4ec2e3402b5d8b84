package preflight

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aisio/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

func TestCheckDirectoryAccess(t *testing.T) {
	if r := CheckDirectoryAccess("test", t.TempDir()); !r.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", r.Detail)
	}
	if r := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope")); r.Passed || r.Detail == "" {
		t.Fatalf("expected failure for missing dir, got %#v", r)
	}
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckDirectoryAccess("test", f); r.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckOpenFileLimit(t *testing.T) {
	if r := CheckOpenFileLimit(0); !r.Passed {
		t.Fatalf("unlimited connections should pass, got %s", r.Detail)
	}
	r := CheckOpenFileLimit(1 << 30)
	if r.Passed {
		t.Fatalf("expected failure for absurd connection cap, got %s", r.Detail)
	}
	if !strings.Contains(r.Detail, "ulimit") {
		t.Fatalf("expected remediation hint, got %q", r.Detail)
	}
}

func TestCheckCharset(t *testing.T) {
	if r := CheckCharset("windows-1252"); !r.Passed {
		t.Fatalf("expected windows-1252 to resolve: %s", r.Detail)
	}
	if r := CheckCharset("no-such-charset"); r.Passed {
		t.Fatal("expected unknown charset to fail")
	}
}

func TestRunAllExternalCodec(t *testing.T) {
	cfg := testConfig(t)
	stub := filepath.Join(t.TempDir(), "serialize")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Codec.Provider = config.CodecProviderExternal
	cfg.Codec.SerializeCommand = []string{stub}
	cfg.Codec.UnserializeCommand = []string{"definitely-missing-unserializer"}

	results := RunAll(cfg, RoleClient)
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Unserialize command" {
		t.Fatalf("expected only the unserialize command to fail, got %#v", failed)
	}
	for _, r := range results {
		if r.Name == "Open file limit" {
			t.Fatal("client role should not check the open file limit")
		}
	}
}

func TestRunAllServer(t *testing.T) {
	cfg := testConfig(t)
	results := RunAll(cfg, RoleServer)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %#v", failed)
	}
	if RunAll(nil, RoleServer) != nil {
		t.Fatal("nil config should yield no results")
	}
}

func TestCheckListenAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if r := CheckListenAddress(ln.Addr().String()); r.Passed {
		t.Fatal("expected bound address to fail")
	}
	if r := CheckListenAddress("127.0.0.1:0"); !r.Passed {
		t.Fatalf("expected ephemeral address to pass: %s", r.Detail)
	}
}
