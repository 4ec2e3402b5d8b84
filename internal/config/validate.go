package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateCodec(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.APIBind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateServer() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be >= 0")
	}
	return nil
}

func (c *Config) validateClient() error {
	if err := validatePort("client.port", c.Client.Port); err != nil {
		return err
	}
	if c.Client.RetryDelaySeconds < 0 {
		return errors.New("client.retry_delay_seconds must be >= 0")
	}
	if c.Client.MaxAttempts < 0 {
		return errors.New("client.max_attempts must be >= 0 (0 retries forever)")
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.ReadChunkSize < 64 {
		return errors.New("transport.read_chunk_size must be at least 64 bytes")
	}
	if c.Transport.WriteTimeoutSeconds < 0 {
		return errors.New("transport.write_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateCodec() error {
	switch c.Codec.Provider {
	case CodecProviderBuiltin:
	case CodecProviderExternal:
		if len(c.Codec.SerializeCommand) == 0 {
			return errors.New("codec.serialize_command must be set when codec.provider is external")
		}
		if len(c.Codec.UnserializeCommand) == 0 {
			return errors.New("codec.unserialize_command must be set when codec.provider is external")
		}
	default:
		return fmt.Errorf("codec.provider must be %q or %q, got %q", CodecProviderBuiltin, CodecProviderExternal, c.Codec.Provider)
	}
	switch c.Codec.StringCharset {
	case "utf-8", "utf8":
		return nil
	}
	if _, err := ianaindex.IANA.Encoding(c.Codec.StringCharset); err != nil {
		return fmt.Errorf("codec.string_charset %q is not a known IANA charset", c.Codec.StringCharset)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", strings.TrimSpace(c.Logging.Level))
	}
}

func validatePort(key string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}
