package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

const (
	// DefaultRetryDelay is the pause between failed connection attempts.
	DefaultRetryDelay = 5 * time.Second
	// DefaultClientTick is the client loop event cadence.
	DefaultClientTick = time.Second
	// DefaultDialTimeout bounds one connection attempt.
	DefaultDialTimeout = 10 * time.Second
	// minStableSession is how long a session must last before a reconnect
	// skips the retry delay.
	minStableSession = time.Second
)

// ClientState is the position of a Client in its connect cycle.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Address              string
	RetryDelay           time.Duration
	MaxAttempts          int
	TickInterval         time.Duration
	DialTimeout          time.Duration
	ReadChunkSize        int
	BufferPartialRecords bool
	WriteTimeout         time.Duration
}

// Client keeps one session to a controller alive. Each session runs a read
// loop plus a tick companion raising the loop event; the companion is
// stopped and joined before the next connection attempt.
type Client struct {
	opts     ClientOptions
	router   *event.Router
	codec    frame.Codec
	logger   *slog.Logger
	observer Observers
	dialer   net.Dialer

	state    atomic.Int32
	attempts atomic.Int64

	mu   sync.RWMutex
	conn *Conn
}

// NewClient prepares a client. Nothing is dialed until Run.
func NewClient(opts ClientOptions, router *event.Router, codec frame.Codec, logger *slog.Logger, observers ...Observer) (*Client, error) {
	if router == nil {
		return nil, errors.New("client requires router")
	}
	if opts.Address == "" {
		return nil, errors.New("client requires address")
	}
	if codec == nil {
		codec = frame.NewBuiltin(nil)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultClientTick
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = DefaultReadChunkSize
	}
	return &Client{
		opts:     opts,
		router:   router,
		codec:    codec,
		logger:   logging.NewComponentLogger(logger, "client").With(logging.String(logging.FieldRole, string(RoleClient))),
		observer: newObservers(observers),
		dialer:   net.Dialer{Timeout: opts.DialTimeout},
	}, nil
}

// State reports the current connect state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// FailedAttempts reports consecutive failed dials since the last session.
func (c *Client) FailedAttempts() int {
	return int(c.attempts.Load())
}

// Conn returns the live session connection, if any.
func (c *Client) Conn() (*Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.conn != nil
}

// Emit sends an event over the live session.
func (c *Client) Emit(ctx context.Context, name string, args ...wire.Value) error {
	conn, ok := c.Conn()
	if !ok {
		return fmt.Errorf("emit %q: %w", name, ErrNotConnected)
	}
	return conn.EmitContext(ctx, name, args...)
}

// Run connects and reconnects until ctx is canceled, returning nil. With
// MaxAttempts > 0 it instead returns a ConnectionError wrapping
// ErrRetriesExhausted once that many consecutive dials fail. Run seals the
// router.
func (c *Client) Run(ctx context.Context) error {
	c.router.Seal()
	c.logger.Info("client starting",
		logging.String("address", c.opts.Address),
		logging.Duration("retry_delay", c.opts.RetryDelay),
		logging.Int("max_attempts", c.opts.MaxAttempts),
	)
	defer c.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateConnecting)
		nc, err := c.dialer.DialContext(ctx, "tcp", c.opts.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt := int(c.attempts.Add(1))
			c.observer.DialFailed(c.opts.Address, attempt, err)
			c.setState(StateDisconnected)
			if c.opts.MaxAttempts > 0 && attempt >= c.opts.MaxAttempts {
				cerr := &ConnectionError{Op: "dial", Addr: c.opts.Address, Err: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)}
				logging.ErrorWithContext(c.logger, "giving up on controller", "client_retries_exhausted",
					logging.Error(cerr),
					logging.String(logging.FieldErrorHint, "start the controller or raise client.max_attempts"),
				)
				return cerr
			}
			logging.WarnWithContext(c.logger, "connection attempt failed; retrying", "client_dial_failed",
				logging.Error(err),
				logging.Int("attempt", attempt),
				logging.Duration("retry_in", c.opts.RetryDelay),
				logging.String(logging.FieldErrorHint, "verify the controller is listening on client.host:client.port"),
				logging.String(logging.FieldImpact, "no events flow until the connection is established"),
			)
			if !sleepContext(ctx, c.opts.RetryDelay) {
				return nil
			}
			continue
		}

		c.attempts.Store(0)
		started := time.Now()
		c.runSession(ctx, nc)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) < minStableSession {
			if !sleepContext(ctx, c.opts.RetryDelay) {
				return nil
			}
		}
	}
}

// runSession drives one connected session to completion.
func (c *Client) runSession(ctx context.Context, nc net.Conn) {
	conn := newConn(nc, RoleClient, c.codec, c.opts.WriteTimeout, c.observer, c.logger)
	sessionCtx, cancel := context.WithCancel(ctx)
	stopClose := context.AfterFunc(sessionCtx, func() { _ = conn.Close() })
	defer func() {
		cancel()
		stopClose()
		_ = conn.Close()
	}()

	c.setConn(conn)
	c.setState(StateConnected)
	c.observer.ConnectionOpened(conn.info)
	conn.logger.Info("connected to controller")
	raise(sessionCtx, c.router, event.Connect, conn, wire.String(conn.RemoteAddr()))

	stopTick := make(chan struct{})
	var tick sync.WaitGroup
	tick.Add(1)
	go func() {
		defer tick.Done()
		c.tickLoop(sessionCtx, conn, stopTick)
	}()

	session := sessionConfig{
		router:     c.router,
		codec:      c.codec,
		chunkSize:  c.opts.ReadChunkSize,
		accumulate: c.opts.BufferPartialRecords,
		observer:   c.observer,
		logger:     conn.logger,
	}
	err := session.readLoop(sessionCtx, conn)

	close(stopTick)
	tick.Wait()
	c.setConn(nil)
	_ = conn.Close()

	if err != nil && (isClosedErr(err) || ctx.Err() != nil) {
		err = nil
	}
	if err != nil {
		logging.WarnWithContext(conn.logger, "session read failed", "session_read_failed",
			logging.Error(&ConnectionError{Op: "read", Addr: conn.RemoteAddr(), Err: err}),
			logging.String(logging.FieldErrorHint, "controller reset the connection or the network dropped"),
			logging.String(logging.FieldImpact, "client will reconnect"),
		)
	}
	raise(context.WithoutCancel(ctx), c.router, event.Disconnect, conn)
	c.observer.ConnectionClosed(conn.info, err)
	conn.logger.Info("disconnected from controller", logging.Duration("session", time.Since(conn.info.ConnectedAt)))
}

func (c *Client) tickLoop(ctx context.Context, conn *Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			raise(ctx, c.router, event.Loop, conn)
		}
	}
}

func (c *Client) setState(s ClientState) {
	c.state.Store(int32(s))
}

func (c *Client) setConn(conn *Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
