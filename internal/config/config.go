package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on mutating API routes.
	APIToken string `toml:"api_token"`
}

// Server configures the listening role.
type Server struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	TickIntervalMS int    `toml:"tick_interval_ms"`
	MaxConnections int    `toml:"max_connections"`
}

// Client configures the reconnecting role.
type Client struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	RetryDelaySeconds  int    `toml:"retry_delay_seconds"`
	MaxAttempts        int    `toml:"max_attempts"`
	TickIntervalMS     int    `toml:"tick_interval_ms"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

// Transport contains per-connection I/O settings shared by both roles.
type Transport struct {
	ReadChunkSize        int  `toml:"read_chunk_size"`
	BufferPartialRecords bool `toml:"buffer_partial_records"`
	WriteTimeoutSeconds  int  `toml:"write_timeout_seconds"`
}

// Codec selects how events are turned into wire records.
type Codec struct {
	Provider           string   `toml:"provider"`
	SerializeCommand   []string `toml:"serialize_command"`
	UnserializeCommand []string `toml:"unserialize_command"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	StringCharset      string   `toml:"string_charset"`
}

// Journal configures the optional SQLite event journal.
type Journal struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for aisio.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories, status API bind address
//   - Server: listen address, tick cadence, connection cap
//   - Client: controller address, retry policy, tick cadence
//   - Transport: read chunk size, partial record buffering, write deadline
//   - Codec: builtin or external record codec
//   - Journal: SQLite session and event journal
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Server    Server    `toml:"server"`
	Client    Client    `toml:"client"`
	Transport Transport `toml:"transport"`
	Codec     Codec     `toml:"codec"`
	Journal   Journal   `toml:"journal"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(c.Journal.Path), 0o755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	return nil
}

// ServerAddress returns the host:port the server role listens on.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ClientAddress returns the host:port the client role dials.
func (c *Config) ClientAddress() string {
	return net.JoinHostPort(c.Client.Host, strconv.Itoa(c.Client.Port))
}

// ServerTickInterval returns the cadence of the server loop event.
func (c *Config) ServerTickInterval() time.Duration {
	return time.Duration(c.Server.TickIntervalMS) * time.Millisecond
}

// ClientTickInterval returns the cadence of the client loop event.
func (c *Config) ClientTickInterval() time.Duration {
	return time.Duration(c.Client.TickIntervalMS) * time.Millisecond
}

// RetryDelay returns the pause between client connection attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Client.RetryDelaySeconds) * time.Second
}

// DialTimeout bounds a single client connection attempt.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Client.DialTimeoutSeconds) * time.Second
}

// WriteTimeout bounds a single outbound record write. Zero disables the deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Transport.WriteTimeoutSeconds) * time.Second
}

// CodecTimeout bounds one external codec invocation.
func (c *Config) CodecTimeout() time.Duration {
	return time.Duration(c.Codec.TimeoutSeconds) * time.Second
}

// UsesExternalCodec reports whether records are produced by external commands.
func (c *Config) UsesExternalCodec() bool {
	return c.Codec.Provider == CodecProviderExternal
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
