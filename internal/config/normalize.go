package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	if err := c.normalizeClient(); err != nil {
		return err
	}
	c.normalizeTransport()
	c.normalizeCodec()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	// An empty api_bind disables the status API.
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if value, ok := os.LookupEnv("AISIO_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeServer() error {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if c.Server.Host == "" {
		c.Server.Host = defaultServerHost
	}
	if value, ok := lookupEnvInt("AISIO_SERVER_PORT"); ok {
		c.Server.Port = value
	} else if raw, set := os.LookupEnv("AISIO_SERVER_PORT"); set && strings.TrimSpace(raw) != "" {
		return fmt.Errorf("AISIO_SERVER_PORT: invalid port %q", raw)
	}
	if c.Server.TickIntervalMS <= 0 {
		c.Server.TickIntervalMS = defaultServerTickMS
	}
	return nil
}

func (c *Config) normalizeClient() error {
	if value, ok := os.LookupEnv("AISIO_CLIENT_HOST"); ok && strings.TrimSpace(value) != "" {
		c.Client.Host = value
	}
	c.Client.Host = strings.TrimSpace(c.Client.Host)
	if c.Client.Host == "" {
		c.Client.Host = defaultClientHost
	}
	if value, ok := lookupEnvInt("AISIO_CLIENT_PORT"); ok {
		c.Client.Port = value
	} else if raw, set := os.LookupEnv("AISIO_CLIENT_PORT"); set && strings.TrimSpace(raw) != "" {
		return fmt.Errorf("AISIO_CLIENT_PORT: invalid port %q", raw)
	}
	if c.Client.TickIntervalMS <= 0 {
		c.Client.TickIntervalMS = defaultClientTickMS
	}
	if c.Client.DialTimeoutSeconds <= 0 {
		c.Client.DialTimeoutSeconds = defaultDialTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeTransport() {
	if c.Transport.ReadChunkSize <= 0 {
		c.Transport.ReadChunkSize = defaultReadChunkSize
	}
}

func (c *Config) normalizeCodec() {
	c.Codec.Provider = strings.ToLower(strings.TrimSpace(c.Codec.Provider))
	if c.Codec.Provider == "" {
		c.Codec.Provider = CodecProviderBuiltin
	}
	c.Codec.SerializeCommand = trimArgs(c.Codec.SerializeCommand)
	c.Codec.UnserializeCommand = trimArgs(c.Codec.UnserializeCommand)
	if c.Codec.TimeoutSeconds <= 0 {
		c.Codec.TimeoutSeconds = defaultCodecTimeout
	}
	c.Codec.StringCharset = strings.ToLower(strings.TrimSpace(c.Codec.StringCharset))
	if c.Codec.StringCharset == "" {
		c.Codec.StringCharset = defaultStringCharset
	}
}

func (c *Config) normalizeJournal() error {
	var err error
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = filepath.Join(c.Paths.StateDir, defaultJournalFile)
	}
	if c.Journal.Path, err = expandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	if c.Journal.RetentionDays < 0 {
		c.Journal.RetentionDays = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lookupEnvInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return value, true
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
