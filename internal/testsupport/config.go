package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"aisio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Both roles target loopback, the server binds an ephemeral port, and the
// status API binds an ephemeral port as well.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Server.Host = "127.0.0.1"
	cfgVal.Server.Port = 0
	cfgVal.Client.Host = "127.0.0.1"
	cfgVal.Client.RetryDelaySeconds = 1
	cfgVal.Journal.Path = filepath.Join(cfgVal.Paths.StateDir, "journal.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithServerPort pins the server port.
func WithServerPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.Port = port
	}
}

// WithClientPort points the client role at port.
func WithClientPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Client.Port = port
	}
}

// WithoutAPI disables the status API.
func WithoutAPI() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = ""
	}
}

// WithJournal enables the event journal under the state directory.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. Each stub exits successfully without output.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteExecutable(b.t, filepath.Join(binDir, name), "#!/bin/sh\nexit 0\n")
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WithExternalCodec switches the codec provider to the given commands.
func WithExternalCodec(serialize, unserialize []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Codec.Provider = config.CodecProviderExternal
		b.cfg.Codec.SerializeCommand = serialize
		b.cfg.Codec.UnserializeCommand = unserialize
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
