package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

func TestServerRaisesLifecycleAroundRecords(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister(event.Connect, j.handler(event.Connect))
	router.MustRegister("move", j.handler("move"))
	router.MustRegister(event.Disconnect, j.handler(event.Disconnect))

	srv := startServer(t, router, transport.ServerOptions{})
	nc := dial(t, srv.Addr().String())

	_, err := nc.Write(frame.AssembleEvent(nil, "move", wire.Int32(10), wire.Int32(20)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return j.count("move") == 1 }, waitFor, pollEvery)
	require.NoError(t, nc.Close())
	require.Eventually(t, func() bool { return j.count(event.Disconnect) == 1 }, waitFor, pollEvery)

	assert.Equal(t, []string{event.Connect, "move", event.Disconnect}, j.names())

	connect, _ := j.find(event.Connect)
	assert.Equal(t, []string{strconv.Quote(nc.LocalAddr().String())}, connect.args)
	move, _ := j.find("move")
	assert.Equal(t, []string{"10", "20"}, move.args)
	assert.Equal(t, connect.connID, move.connID)
	assert.Empty(t, srv.Connections())
}

func TestServerTickRunsWithoutConnections(t *testing.T) {
	router := newRouter()
	var mu sync.Mutex
	ticks := 0
	sawConn := false
	router.MustRegister(event.Loop, func(_ context.Context, conn event.Conn, _ ...wire.Value) error {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		if conn != nil {
			sawConn = true
		}
		return nil
	})

	startServer(t, router, transport.ServerOptions{TickInterval: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, waitFor, pollEvery)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, sawConn)
}

func TestServerWithoutLoopHandlerStaysQuiet(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister(event.Wildcard, j.handler(event.Wildcard))

	srv := startServer(t, router, transport.ServerOptions{TickInterval: 5 * time.Millisecond})
	nc := dial(t, srv.Addr().String())
	_, err := nc.Write(frame.AssembleEvent(nil, "custom"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return j.count(event.Wildcard) == 1 }, waitFor, pollEvery)
	time.Sleep(30 * time.Millisecond)
	// The catch-all never receives connect or loop.
	assert.Equal(t, 1, j.count(event.Wildcard))
}

func TestServerHandlerReplies(t *testing.T) {
	router := newRouter()
	router.MustRegister("ping", func(_ context.Context, conn event.Conn, args ...wire.Value) error {
		return conn.Emit("pong", args...)
	})

	srv := startServer(t, router, transport.ServerOptions{})
	nc := dial(t, srv.Addr().String())
	_, err := nc.Write(frame.AssembleEvent(nil, "ping", wire.String("hi")))
	require.NoError(t, err)

	evt := readEvent(t, nc, bufio.NewReader(nc))
	assert.Equal(t, "pong", evt.Name)
	require.Len(t, evt.Args, 1)
	assert.True(t, evt.Args[0].Equal(wire.String("hi")))
}

func TestServerDropsMalformedRecords(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister("ok", j.handler("ok"))
	obs := &countingObserver{}

	srv := startServer(t, router, transport.ServerOptions{}, obs)
	nc := dial(t, srv.Addr().String())

	payload := append([]byte("zz|garbage#"), frame.AssembleEvent(nil, "ok", wire.Bool(true))...)
	_, err := nc.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return j.count("ok") == 1 }, waitFor, pollEvery)
	assert.EqualValues(t, 1, obs.dropped.Load())
	assert.EqualValues(t, 1, obs.received.Load())
}

func TestServerBuffersPartialRecords(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister("move", j.handler("move"))

	srv := startServer(t, router, transport.ServerOptions{BufferPartialRecords: true})
	nc := dial(t, srv.Addr().String())

	record := frame.AssembleEvent(nil, "move", wire.Int32(1), wire.Int32(2))
	half := len(record) / 2
	_, err := nc.Write(record[:half])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = nc.Write(record[half:])
	require.NoError(t, err)

	require.Eventually(t, func() bool { return j.count("move") == 1 }, waitFor, pollEvery)
	move, _ := j.find("move")
	assert.Equal(t, []string{"1", "2"}, move.args)
}

func TestServerRejectsBeyondMaxConnections(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister(event.Connect, j.handler(event.Connect))

	logs := &lockedBuffer{}
	srv, err := transport.NewServer(context.Background(), transport.ServerOptions{
		Address:        "127.0.0.1:0",
		TickInterval:   time.Hour,
		MaxConnections: 1,
	}, router, nil, slog.New(slog.NewTextHandler(logs, nil)))
	require.NoError(t, err)
	srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	first := dial(t, srv.Addr().String())
	require.Eventually(t, func() bool { return j.count(event.Connect) == 1 }, waitFor, pollEvery)

	second := dial(t, srv.Addr().String())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = second.Read(make([]byte, 1))
	require.Error(t, err)

	assert.Equal(t, 1, j.count(event.Connect))
	assert.Len(t, srv.Connections(), 1)
	assert.Equal(t, first.LocalAddr().String(), srv.Connections()[0].RemoteAddr)
	require.Eventually(t, func() bool { return strings.Contains(logs.String(), "alert=connection_limit") }, waitFor, pollEvery)
	assert.Contains(t, logs.String(), "event_type=connection_rejected")
}

func TestServerBroadcastAndLookup(t *testing.T) {
	router := newRouter()
	srv := startServer(t, router, transport.ServerOptions{})

	a := dial(t, srv.Addr().String())
	b := dial(t, srv.Addr().String())
	require.Eventually(t, func() bool { return len(srv.Connections()) == 2 }, waitFor, pollEvery)

	n, err := srv.Broadcast(context.Background(), "notice", wire.String("all"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "notice", readEvent(t, a, bufio.NewReader(a)).Name)
	assert.Equal(t, "notice", readEvent(t, b, bufio.NewReader(b)).Name)

	infos := srv.Connections()
	conn, ok := srv.Lookup(infos[0].ID)
	require.True(t, ok)
	assert.Equal(t, transport.RoleServer, conn.Info().Role)
	_, ok = srv.Lookup("missing")
	assert.False(t, ok)
}

func TestConcurrentEmitsDoNotInterleave(t *testing.T) {
	router := newRouter()
	srv := startServer(t, router, transport.ServerOptions{})
	nc := dial(t, srv.Addr().String())
	require.Eventually(t, func() bool { return len(srv.Connections()) == 1 }, waitFor, pollEvery)
	conn, ok := srv.Lookup(srv.Connections()[0].ID)
	require.True(t, ok)

	const writers, perWriter = 8, 25
	payload := string(bytes.Repeat([]byte("x"), 2048))
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				assert.NoError(t, conn.Emit(fmt.Sprintf("w%d", w), wire.Int32(int32(i)), wire.String(payload)))
			}
		}()
	}

	reader := bufio.NewReader(nc)
	seen := make(map[string]int)
	for range writers * perWriter {
		evt := readEvent(t, nc, reader)
		require.Len(t, evt.Args, 2)
		s, _ := evt.Args[1].AsString()
		require.Equal(t, payload, s)
		n, _ := evt.Args[0].AsInt()
		// Each writer's records arrive in the order it wrote them.
		require.Equal(t, seen[evt.Name], int(n))
		seen[evt.Name]++
	}
	wg.Wait()
	assert.Len(t, seen, writers)
}

func TestServerCloseRunsDisconnect(t *testing.T) {
	router := newRouter()
	var j journal
	router.MustRegister(event.Disconnect, j.handler(event.Disconnect))

	srv, err := transport.NewServer(context.Background(), transport.ServerOptions{Address: "127.0.0.1:0"}, router, nil, nil)
	require.NoError(t, err)
	srv.Serve()
	dial(t, srv.Addr().String())
	require.Eventually(t, func() bool { return len(srv.Connections()) == 1 }, waitFor, pollEvery)

	require.NoError(t, srv.Close())
	assert.Equal(t, 1, j.count(event.Disconnect))
	assert.True(t, router.Sealed())

	_, err = srv.Broadcast(context.Background(), "late")
	assert.NoError(t, err)
}

func TestNewServerListenError(t *testing.T) {
	srv := startServer(t, newRouter(), transport.ServerOptions{})
	_, err := transport.NewServer(context.Background(), transport.ServerOptions{Address: srv.Addr().String()}, newRouter(), nil, nil)
	var connErr *transport.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "listen", connErr.Op)
}
