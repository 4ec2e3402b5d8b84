package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"aisio/internal/config"
	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/metrics"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

var (
	// ErrAlreadyRunning is returned when another process holds the role lock.
	ErrAlreadyRunning = errors.New("another aisio instance is already running for this role and port")
	// ErrUnknownConnection is returned when an emit targets a connection that
	// is not live.
	ErrUnknownConnection = errors.New("connection not found")
	// ErrNotRunning is returned by operations that need a started role.
	ErrNotRunning = errors.New("daemon not running")
)

// Options configures a Daemon.
type Options struct {
	Config  *config.Config
	Role    transport.Role
	Router  *event.Router
	Codec   frame.Codec
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Observers receive transport events in addition to Metrics.
	Observers   []transport.Observer
	LogPath     string
	JournalPath string
}

// Daemon runs a single role and enforces single-instance execution.
type Daemon struct {
	opts     Options
	cfg      *config.Config
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	server    *transport.Server
	client    *transport.Client
	api       *apiServer
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   error

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	Role           transport.Role
	Address        string
	PID            int
	StartedAt      time.Time
	ClientState    string
	FailedAttempts int
	Connections    []transport.ConnInfo
	Handlers       []string
	LockFilePath   string
	LogPath        string
	JournalPath    string
	LastError      error
}

// LockPath returns the lock file guarding role on its configured port.
func LockPath(cfg *config.Config, role transport.Role) string {
	port := cfg.Server.Port
	if role == transport.RoleClient {
		port = cfg.Client.Port
	}
	return filepath.Join(cfg.Paths.StateDir, "aisio-"+string(role)+"-"+strconv.Itoa(port)+".lock")
}

// New constructs a daemon. Nothing is bound until Start.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Router == nil {
		return nil, errors.New("daemon requires config and router")
	}
	if opts.Role != transport.RoleServer && opts.Role != transport.RoleClient {
		return nil, fmt.Errorf("unknown role %q", opts.Role)
	}
	if opts.Codec == nil {
		opts.Codec = frame.NewBuiltin(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	lockPath := LockPath(opts.Config, opts.Role)
	return &Daemon{
		opts:     opts,
		cfg:      opts.Config,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon").With(logging.String(logging.FieldRole, string(opts.Role))),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the role lock, starts the server or client, and the status
// API when paths.api_bind is set.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.lastErr = nil
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()

	var startErr error
	if d.opts.Role == transport.RoleServer {
		startErr = d.startServer(runCtx, done)
	} else {
		startErr = d.startClient(runCtx, done)
	}
	if startErr != nil {
		cancel()
		_ = d.lock.Unlock()
		return startErr
	}

	api, err := newAPIServer(d.cfg, d, d.opts.Metrics, d.opts.Logger)
	if err == nil {
		err = api.start(runCtx)
	}
	if err != nil {
		cancel()
		<-done
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.api = api
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("aisio daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) observers() []transport.Observer {
	list := make([]transport.Observer, 0, len(d.opts.Observers)+1)
	if d.opts.Metrics != nil {
		list = append(list, d.opts.Metrics)
	}
	return append(list, d.opts.Observers...)
}

func (d *Daemon) startServer(ctx context.Context, done chan struct{}) error {
	server, err := transport.NewServer(ctx, transport.ServerOptions{
		Address:              d.cfg.ServerAddress(),
		TickInterval:         d.cfg.ServerTickInterval(),
		MaxConnections:       d.cfg.Server.MaxConnections,
		ReadChunkSize:        d.cfg.Transport.ReadChunkSize,
		BufferPartialRecords: d.cfg.Transport.BufferPartialRecords,
		WriteTimeout:         d.cfg.WriteTimeout(),
	}, d.opts.Router, d.opts.Codec, d.opts.Logger, d.observers()...)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.server = server
	d.mu.Unlock()

	server.Serve()
	go func() {
		defer close(done)
		<-ctx.Done()
		if err := server.Close(); err != nil {
			d.logger.Warn("server close failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "server_close_failed"),
				logging.String(logging.FieldErrorHint, "listener was already closed"),
				logging.String(logging.FieldImpact, "none"),
			)
		}
	}()
	return nil
}

func (d *Daemon) startClient(ctx context.Context, done chan struct{}) error {
	client, err := transport.NewClient(transport.ClientOptions{
		Address:              d.cfg.ClientAddress(),
		RetryDelay:           d.cfg.RetryDelay(),
		MaxAttempts:          d.cfg.Client.MaxAttempts,
		TickInterval:         d.cfg.ClientTickInterval(),
		DialTimeout:          d.cfg.DialTimeout(),
		ReadChunkSize:        d.cfg.Transport.ReadChunkSize,
		BufferPartialRecords: d.cfg.Transport.BufferPartialRecords,
		WriteTimeout:         d.cfg.WriteTimeout(),
	}, d.opts.Router, d.opts.Codec, d.opts.Logger, d.observers()...)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	go func() {
		defer close(done)
		if err := client.Run(ctx); err != nil {
			logging.ErrorWithContext(d.logger, "client stopped", "client_stopped",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the controller is listening on client.host:client.port"),
			)
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
		}
	}()
	return nil
}

// Done is closed when the role stops, either through Stop or because the
// client exhausted its retries.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

// Err returns the error that ended the role, if any.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Stop shuts down the role, waits for disconnect handlers, and releases the
// lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel, done, api := d.cancel, d.done, d.api
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if it persists"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("aisio daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// LockPath returns the lock file path used by this daemon.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// APIAddr returns the bound status API address, or empty when disabled.
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// ServerAddr returns the bound listen address in server role.
func (d *Daemon) ServerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return ""
	}
	return d.server.Addr().String()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	server, client := d.server, d.client
	status := Status{
		Running:      d.running.Load(),
		Role:         d.opts.Role,
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		Handlers:     d.opts.Router.Names(),
		LockFilePath: d.lockPath,
		LogPath:      d.opts.LogPath,
		JournalPath:  d.opts.JournalPath,
		LastError:    d.lastErr,
	}
	d.mu.Unlock()

	switch {
	case server != nil:
		status.Address = server.Addr().String()
		status.Connections = server.Connections()
	case client != nil:
		status.Address = d.cfg.ClientAddress()
		status.ClientState = client.State().String()
		status.FailedAttempts = client.FailedAttempts()
		if conn, ok := client.Conn(); ok {
			status.Connections = []transport.ConnInfo{conn.Info()}
		}
	}
	if status.Connections == nil {
		status.Connections = []transport.ConnInfo{}
	}
	return status
}

// Emit sends one event to a live connection. In client role an empty connID
// targets the current session.
func (d *Daemon) Emit(ctx context.Context, connID, name string, args ...wire.Value) error {
	d.mu.Lock()
	server, client := d.server, d.client
	d.mu.Unlock()

	switch {
	case server != nil:
		conn, ok := server.Lookup(connID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
		}
		return conn.EmitContext(ctx, name, args...)
	case client != nil:
		if connID != "" {
			conn, ok := client.Conn()
			if !ok || conn.ID() != connID {
				return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
			}
		}
		return client.Emit(ctx, name, args...)
	}
	return ErrNotRunning
}

// Broadcast sends one event to every live connection and reports how many
// accepted it.
func (d *Daemon) Broadcast(ctx context.Context, name string, args ...wire.Value) (int, error) {
	d.mu.Lock()
	server, client := d.server, d.client
	d.mu.Unlock()

	switch {
	case server != nil:
		return server.Broadcast(ctx, name, args...)
	case client != nil:
		if err := client.Emit(ctx, name, args...); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				return 0, nil
			}
			return 0, err
		}
		return 1, nil
	}
	return 0, ErrNotRunning
}
