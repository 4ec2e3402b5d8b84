package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

const (
	// DefaultReadChunkSize bounds a single socket read.
	DefaultReadChunkSize = 8192
	// DefaultServerTick is the server loop event cadence.
	DefaultServerTick = 500 * time.Millisecond

	acceptBackoff = 50 * time.Millisecond
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Address              string
	TickInterval         time.Duration
	MaxConnections       int
	ReadChunkSize        int
	BufferPartialRecords bool
	WriteTimeout         time.Duration
}

// Server accepts any number of peers and runs one read loop per connection.
// Independently of connections it raises the loop event every TickInterval
// with a nil Conn.
type Server struct {
	opts     ServerOptions
	router   *event.Router
	codec    frame.Codec
	logger   *slog.Logger
	observer Observers
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	conns map[string]*Conn

	serveOnce sync.Once
	closeOnce sync.Once
}

// NewServer binds the listen address. Connections are not accepted until
// Serve is called.
func NewServer(ctx context.Context, opts ServerOptions, router *event.Router, codec frame.Codec, logger *slog.Logger, observers ...Observer) (*Server, error) {
	if router == nil {
		return nil, errors.New("server requires router")
	}
	if codec == nil {
		codec = frame.NewBuiltin(nil)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultServerTick
	}
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = DefaultReadChunkSize
	}
	logger = logging.NewComponentLogger(logger, "server").With(logging.String(logging.FieldRole, string(RoleServer)))

	listener, err := net.Listen("tcp", opts.Address)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Addr: opts.Address, Err: err}
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		opts:     opts,
		router:   router,
		codec:    codec,
		logger:   logger,
		observer: newObservers(observers),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[string]*Conn),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve starts the accept loop and the tick. It returns immediately; call
// Close to stop. Serve seals the router so registration cannot race with
// dispatch.
func (s *Server) Serve() {
	s.serveOnce.Do(func() {
		s.router.Seal()
		s.logger.Info("server listening",
			logging.String("address", s.listener.Addr().String()),
			logging.Duration("tick_interval", s.opts.TickInterval),
			logging.Int("max_connections", s.opts.MaxConnections),
		)
		s.wg.Add(2)
		go s.acceptLoop()
		go s.tickLoop()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if isClosedErr(err) {
				return
			}
			logging.WarnWithContext(s.logger, "accept failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file descriptor limits"),
				logging.String(logging.FieldImpact, "peers may fail to connect until accept recovers"),
			)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.logger.Debug("connection accepted", logging.RemoteAddr(nc.RemoteAddr().String()))

		conn := newConn(nc, RoleServer, s.codec, s.opts.WriteTimeout, s.observer, s.logger)
		if !s.track(conn) {
			logging.WarnWithContext(s.logger, "connection rejected; limit reached", "connection_rejected",
				logging.Alert("connection_limit"),
				logging.RemoteAddr(conn.RemoteAddr()),
				logging.Int("max_connections", s.opts.MaxConnections),
				logging.String(logging.FieldErrorHint, "raise server.max_connections or reduce peers"),
				logging.String(logging.FieldImpact, "peer was disconnected immediately"),
			)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// track registers conn unless the connection limit is reached or the server
// is closing.
func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	if s.opts.MaxConnections > 0 && len(s.conns) >= s.opts.MaxConnections {
		return false
	}
	s.conns[conn.ID()] = conn
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
}

// serveConn is the per-connection unit: connect, read until the stream ends,
// disconnect.
func (s *Server) serveConn(conn *Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	s.observer.ConnectionOpened(conn.info)
	conn.logger.Info("peer connected")
	raise(s.ctx, s.router, event.Connect, conn, wire.String(conn.RemoteAddr()))

	session := sessionConfig{
		router:     s.router,
		codec:      s.codec,
		chunkSize:  s.opts.ReadChunkSize,
		accumulate: s.opts.BufferPartialRecords,
		observer:   s.observer,
		logger:     conn.logger,
	}
	err := session.readLoop(s.ctx, conn)
	_ = conn.Close()

	if err != nil && !isClosedErr(err) {
		logging.WarnWithContext(conn.logger, "connection read failed", "connection_read_failed",
			logging.Error(&ConnectionError{Op: "read", Addr: conn.RemoteAddr(), Err: err}),
			logging.String(logging.FieldErrorHint, "peer reset the connection or the network dropped"),
			logging.String(logging.FieldImpact, "connection closed; peer must reconnect"),
		)
	} else {
		err = nil
	}
	raise(context.WithoutCancel(s.ctx), s.router, event.Disconnect, conn)
	s.observer.ConnectionClosed(conn.info, err)
	conn.logger.Info("peer disconnected", logging.Duration("session", time.Since(conn.info.ConnectedAt)))
}

func (s *Server) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			raise(s.ctx, s.router, event.Loop, nil)
		}
	}
}

// Lookup returns the live connection with id.
func (s *Server) Lookup(id string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Connections returns a snapshot of live connections ordered by connect time.
func (s *Server) Connections() []ConnInfo {
	s.mu.RLock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, conn := range s.conns {
		out = append(out, conn.info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Broadcast encodes the event once and writes it to every live connection.
// It returns how many connections accepted the write; failures are joined.
func (s *Server) Broadcast(ctx context.Context, name string, args ...wire.Value) (int, error) {
	evt := frame.Event{Name: name, Args: args}
	record, err := s.codec.EncodeEvent(ctx, evt)
	if err != nil {
		return 0, fmt.Errorf("broadcast %q: %w", name, err)
	}

	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		targets = append(targets, conn)
	}
	s.mu.RUnlock()

	delivered := 0
	var errs []error
	for _, conn := range targets {
		if err := conn.writeRecord(evt, record); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Close stops accepting, closes every live connection, and waits for their
// disconnect handlers to finish.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.listener.Close()
		if isClosedErr(err) {
			err = nil
		}
		s.mu.RLock()
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.RUnlock()
		s.wg.Wait()
		s.logger.Info("server stopped")
	})
	return err
}
