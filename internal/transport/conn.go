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

	"github.com/google/uuid"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

// Role names the side of the link a connection belongs to.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// ConnInfo is an immutable snapshot describing a connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	RemoteAddr  string    `json:"remote_addr"`
	LocalAddr   string    `json:"local_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Conn is one live socket. Reads belong to the session that created it;
// Emit may be called from any goroutine and writes are serialized so
// records never interleave.
type Conn struct {
	info         ConnInfo
	nc           net.Conn
	codec        frame.Codec
	writeTimeout time.Duration
	observer     Observer
	logger       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(nc net.Conn, role Role, codec frame.Codec, writeTimeout time.Duration, observer Observer, logger *slog.Logger) *Conn {
	info := ConnInfo{
		ID:          uuid.NewString(),
		Role:        role,
		RemoteAddr:  nc.RemoteAddr().String(),
		LocalAddr:   nc.LocalAddr().String(),
		ConnectedAt: time.Now().UTC(),
	}
	return &Conn{
		info:         info,
		nc:           nc,
		codec:        codec,
		writeTimeout: writeTimeout,
		observer:     observer,
		logger: logger.With(
			logging.ConnID(info.ID),
			logging.RemoteAddr(info.RemoteAddr),
		),
	}
}

func (c *Conn) ID() string { return c.info.ID }

func (c *Conn) RemoteAddr() string { return c.info.RemoteAddr }

func (c *Conn) Info() ConnInfo { return c.info }

// Emit encodes and writes one event.
func (c *Conn) Emit(name string, args ...wire.Value) error {
	return c.EmitContext(context.Background(), name, args...)
}

// EmitContext is Emit with a context bounding the encode step, which matters
// when records are produced by an external codec.
func (c *Conn) EmitContext(ctx context.Context, name string, args ...wire.Value) error {
	evt := frame.Event{Name: name, Args: args}
	record, err := c.codec.EncodeEvent(ctx, evt)
	if err != nil {
		c.observer.EventEmitted(c.info, evt, 0, err)
		logging.ErrorWithContext(c.logger, "event encode failed; nothing sent", "event_encode_failed",
			logging.EventName(name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check codec configuration and argument types"),
		)
		return fmt.Errorf("emit %q: %w", name, err)
	}
	return c.writeRecord(evt, record)
}

func (c *Conn) writeRecord(evt frame.Event, record []byte) error {
	if c.closed.Load() {
		c.observer.EventEmitted(c.info, evt, 0, ErrConnClosed)
		return &ConnectionError{Op: "write", Addr: c.info.RemoteAddr, Err: ErrConnClosed}
	}

	c.writeMu.Lock()
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.nc.Write(record)
	c.writeMu.Unlock()

	c.observer.EventEmitted(c.info, evt, len(record), err)
	if err != nil {
		logging.WarnWithContext(c.logger, "event write failed", "event_write_failed",
			logging.EventName(evt.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "peer likely disconnected"),
			logging.String(logging.FieldImpact, "event was not delivered"),
		)
		return &ConnectionError{Op: "write", Addr: c.info.RemoteAddr, Err: err}
	}
	c.logger.Debug("event sent",
		logging.EventName(evt.Name),
		logging.Int("bytes", len(record)),
	)
	return nil
}

// Close shuts the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
	})
	return err
}

var _ event.Conn = (*Conn)(nil)

// isClosedErr reports errors that only mean the socket was closed locally.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
