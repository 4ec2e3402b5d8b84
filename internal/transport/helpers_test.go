package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

// journal records handler invocations in order.
type journal struct {
	mu      sync.Mutex
	entries []entry
}

type entry struct {
	name   string
	connID string
	args   []string
}

func (j *journal) handler(name string) event.Handler {
	return func(_ context.Context, conn event.Conn, args ...wire.Value) error {
		e := entry{name: name}
		if conn != nil {
			e.connID = conn.ID()
		}
		for _, a := range args {
			e.args = append(e.args, a.String())
		}
		j.mu.Lock()
		j.entries = append(j.entries, e)
		j.mu.Unlock()
		return nil
	}
}

func (j *journal) names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.name)
	}
	return out
}

func (j *journal) count(name string) int {
	n := 0
	for _, got := range j.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (j *journal) find(name string) (entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.name == name {
			return e, true
		}
	}
	return entry{}, false
}

type countingObserver struct {
	transport.NopObserver
	opened     atomic.Int32
	closed     atomic.Int32
	received   atomic.Int32
	dropped    atomic.Int32
	dialFailed atomic.Int32
}

func (o *countingObserver) ConnectionOpened(transport.ConnInfo)                 { o.opened.Add(1) }
func (o *countingObserver) ConnectionClosed(transport.ConnInfo, error)          { o.closed.Add(1) }
func (o *countingObserver) RecordReceived(transport.ConnInfo, frame.Event, int) { o.received.Add(1) }
func (o *countingObserver) RecordDropped(transport.ConnInfo, []byte, error)     { o.dropped.Add(1) }
func (o *countingObserver) DialFailed(string, int, error)                       { o.dialFailed.Add(1) }

func newRouter() *event.Router {
	return event.NewRouter(event.Config{Logger: logging.NewNop()})
}

func startServer(t *testing.T, router *event.Router, opts transport.ServerOptions, observers ...transport.Observer) *transport.Server {
	t.Helper()
	if opts.Address == "" {
		opts.Address = "127.0.0.1:0"
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	srv, err := transport.NewServer(context.Background(), opts, router, nil, logging.NewNop(), observers...)
	require.NoError(t, err)
	srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return nc
}

// readEvent reads one delimited record from r and decodes it.
func readEvent(t *testing.T, nc net.Conn, r *bufio.Reader) frame.Event {
	t.Helper()
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	record, err := r.ReadBytes('#')
	require.NoError(t, err)
	evt, err := frame.DecodeEvent(nil, record)
	require.NoError(t, err)
	return evt
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

// lockedBuffer is a bytes.Buffer safe for a logger shared across goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
