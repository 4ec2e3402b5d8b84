package config

const (
	defaultConfigPath         = "~/.config/aisio/config.toml"
	projectConfigName         = "aisio.toml"
	defaultStateDir           = "~/.local/share/aisio"
	defaultLogDir             = "~/.local/share/aisio/logs"
	defaultAPIBind            = "127.0.0.1:5081"
	defaultServerHost         = "0.0.0.0"
	defaultClientHost         = "127.0.0.1"
	defaultPort               = 5000
	defaultServerTickMS       = 500
	defaultClientTickMS       = 1000
	defaultRetryDelaySeconds  = 5
	defaultDialTimeoutSeconds = 10
	defaultReadChunkSize      = 8192
	defaultWriteTimeout       = 10
	defaultCodecTimeout       = 10
	defaultStringCharset      = "utf-8"
	defaultJournalFile        = "journal.db"
	defaultJournalRetention   = 14
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Codec providers.
const (
	CodecProviderBuiltin  = "builtin"
	CodecProviderExternal = "external"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Server: Server{
			Host:           defaultServerHost,
			Port:           defaultPort,
			TickIntervalMS: defaultServerTickMS,
		},
		Client: Client{
			Host:               defaultClientHost,
			Port:               defaultPort,
			RetryDelaySeconds:  defaultRetryDelaySeconds,
			TickIntervalMS:     defaultClientTickMS,
			DialTimeoutSeconds: defaultDialTimeoutSeconds,
		},
		Transport: Transport{
			ReadChunkSize:       defaultReadChunkSize,
			WriteTimeoutSeconds: defaultWriteTimeout,
		},
		Codec: Codec{
			Provider:       CodecProviderBuiltin,
			TimeoutSeconds: defaultCodecTimeout,
			StringCharset:  defaultStringCharset,
		},
		Journal: Journal{
			RetentionDays: defaultJournalRetention,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
