package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"aisio/internal/codecproc"
	"aisio/internal/config"
	"aisio/internal/daemon"
	"aisio/internal/daemonctl"
	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/handlers"
	"aisio/internal/journal"
	"aisio/internal/logging"
	"aisio/internal/metrics"
	"aisio/internal/preflight"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

// Options configures process runtime behavior.
type Options struct {
	Role        transport.Role
	LogLevel    string
	Development bool
	// Register binds application handlers before the built-in set, which
	// never replaces a name already bound.
	Register func(*event.Router) error
}

// Run starts one role and blocks until a signal arrives or the role stops on
// its own. A client that exhausts its retries returns that error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.Role != transport.RoleServer && opts.Role != transport.RoleClient {
		return fmt.Errorf("unknown role %q", opts.Role)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("aisio-%s-%s.log", opts.Role, runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(
		logging.String(logging.FieldRunID, uuid.NewString()),
		logging.String(logging.FieldRole, string(opts.Role)),
	)

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update aisio.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, "aisio-*.log", cfg.Logging.RetentionDays, logPath)

	if failed := preflight.Failed(preflight.RunAll(cfg, preflight.Role(opts.Role))); len(failed) > 0 {
		for _, result := range failed {
			logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldErrorHint, "fix the reported check or adjust the configuration"),
			)
		}
		return fmt.Errorf("preflight: %d check(s) failed, first: %s: %s", len(failed), failed[0].Name, failed[0].Detail)
	}

	collector := metrics.New()
	codec, err := BuildCodec(cfg, logger)
	if err != nil {
		return err
	}

	var observers []transport.Observer
	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = openJournal(signalCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		observers = append(observers, journal.NewRecorder(store, logger))
	}

	router := event.NewRouter(event.Config{
		Logger:     logger,
		OnDispatch: collector.ObserveDispatch,
	})
	if opts.Register != nil {
		if err := opts.Register(router); err != nil {
			return fmt.Errorf("register handlers: %w", err)
		}
	}
	deps := handlers.Deps{Logger: logger, RetentionDays: cfg.Journal.RetentionDays}
	if store != nil {
		deps.Journal = store
	}
	if err := handlers.New(deps).Register(router); err != nil {
		return fmt.Errorf("register built-in handlers: %w", err)
	}

	journalPath := ""
	if store != nil {
		journalPath = store.Path()
	}
	d, err := daemon.New(daemon.Options{
		Config:      cfg,
		Role:        opts.Role,
		Router:      router,
		Codec:       codec,
		Logger:      logger,
		Metrics:     collector,
		Observers:   observers,
		LogPath:     logPath,
		JournalPath: journalPath,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the listen address and that no other instance owns this role"),
		)
		return err
	}

	pidPath := daemonctl.PIDPath(cfg, opts.Role)
	if err := daemonctl.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	select {
	case <-signalCtx.Done():
		logger.Info("aisio shutting down")
	case <-d.Done():
	}
	d.Stop()
	return d.Err()
}

// WireCodec builds the value codec for the configured string charset.
func WireCodec(cfg *config.Config) (*wire.Codec, error) {
	enc, err := wire.CharsetByName(cfg.Codec.StringCharset)
	if err != nil {
		return nil, fmt.Errorf("codec.string_charset: %w", err)
	}
	if enc == nil {
		return wire.Default, nil
	}
	return wire.New(wire.WithCharset(enc)), nil
}

// BuildCodec returns the record codec selected by codec.provider.
func BuildCodec(cfg *config.Config, logger *slog.Logger) (frame.Codec, error) {
	if cfg.UsesExternalCodec() {
		provider, err := codecproc.New(codecproc.Options{
			SerializeCommand:   cfg.Codec.SerializeCommand,
			UnserializeCommand: cfg.Codec.UnserializeCommand,
			Timeout:            cfg.CodecTimeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("external codec: %w", err)
		}
		return provider, nil
	}
	codec, err := WireCodec(cfg)
	if err != nil {
		return nil, err
	}
	return frame.NewBuiltin(codec), nil
}

func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*journal.Store, error) {
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		if errors.Is(err, journal.ErrSchemaMismatch) {
			logging.ErrorWithContext(logger, "journal schema mismatch", "journal_schema_mismatch",
				logging.String("path", cfg.Journal.Path),
				logging.String(logging.FieldErrorHint, "delete the journal file; it only holds diagnostics"),
			)
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	closed, err := store.CloseOpenSessions(ctx, time.Now().UTC(), "process restarted")
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("close stale journal sessions: %w", err)
	}
	if closed > 0 {
		logger.Info("closed stale journal sessions", logging.Int64("count", closed))
	}
	return store, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "aisio.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
