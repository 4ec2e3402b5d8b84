package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisio/internal/event"
	"aisio/internal/wire"
)

type sent struct {
	name string
	args []wire.Value
}

type fakeConn struct {
	mu   sync.Mutex
	sent []sent
}

func (c *fakeConn) ID() string         { return "conn-1" }
func (c *fakeConn) RemoteAddr() string { return "10.0.0.5:4242" }
func (c *fakeConn) Emit(name string, args ...wire.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{name: name, args: args})
	return nil
}

type fakePruner struct {
	calls   []time.Time
	removed int64
	err     error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls = append(p.calls, cutoff)
	return p.removed, p.err
}

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPingRepliesWithPong(t *testing.T) {
	set := New(Deps{})
	conn := &fakeConn{}

	require.NoError(t, set.Ping(context.Background(), conn, wire.String("x"), wire.Int32(1)))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, Pong, conn.sent[0].name)
	assert.Len(t, conn.sent[0].args, 2)

	assert.Error(t, set.Ping(context.Background(), nil))
}

func TestLogForwardsRemoteLines(t *testing.T) {
	var buf bytes.Buffer
	set := New(Deps{Logger: newLogger(&buf)})

	require.NoError(t, set.Log(context.Background(), &fakeConn{}, wire.String("warn"), wire.String("disk low"), wire.Int32(5)))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="disk low"`)
	assert.Contains(t, out, "component=remote")
	assert.Contains(t, out, "extra=[5]")

	buf.Reset()
	require.NoError(t, set.Log(context.Background(), nil, wire.String("hello")))
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	require.NoError(t, set.Log(context.Background(), nil, wire.String("not-a-level"), wire.String("second")))
	assert.Contains(t, buf.String(), "msg=not-a-level")

	assert.Error(t, set.Log(context.Background(), nil))
}

func TestLoopPrunesAtMostOncePerInterval(t *testing.T) {
	pruner := &fakePruner{removed: 3}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	set := New(Deps{
		Journal:       pruner,
		RetentionDays: 2,
		PruneInterval: time.Hour,
		Now:           func() time.Time { return now },
	})

	require.NoError(t, set.Loop(context.Background(), nil))
	require.NoError(t, set.Loop(context.Background(), nil))
	require.Len(t, pruner.calls, 1)
	assert.Equal(t, now.Add(-48*time.Hour), pruner.calls[0])

	now = now.Add(61 * time.Minute)
	require.NoError(t, set.Loop(context.Background(), nil))
	assert.Len(t, pruner.calls, 2)
}

func TestLoopWithoutJournal(t *testing.T) {
	set := New(Deps{RetentionDays: 1})
	assert.NoError(t, set.Loop(context.Background(), nil))

	pruner := &fakePruner{}
	disabled := New(Deps{Journal: pruner})
	assert.NoError(t, disabled.Loop(context.Background(), nil))
	assert.Empty(t, pruner.calls)
}

func TestLoopReportsPruneFailure(t *testing.T) {
	set := New(Deps{Journal: &fakePruner{err: errors.New("locked")}, RetentionDays: 1})
	assert.Error(t, set.Loop(context.Background(), nil))
}

func TestRegisterKeepsCallerHandlers(t *testing.T) {
	router := event.NewRouter(event.Config{})
	custom := 0
	router.MustRegister(Ping, func(context.Context, event.Conn, ...wire.Value) error {
		custom++
		return nil
	})

	var buf bytes.Buffer
	require.NoError(t, New(Deps{Logger: newLogger(&buf)}).Register(router))
	assert.Equal(t, []string{"connect", "disconnect", "log", "loop", "ping"}, router.Names())

	conn := &fakeConn{}
	require.NoError(t, router.Dispatch(context.Background(), Ping, conn))
	assert.Equal(t, 1, custom)
	assert.Empty(t, conn.sent)
}

func TestBuiltinsLeaveMissesToRouter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	var misses []error
	router := event.NewRouter(event.Config{
		Logger: logger,
		OnDispatch: func(_ string, _ event.Conn, _ time.Duration, err error) {
			misses = append(misses, err)
		},
	})
	require.NoError(t, New(Deps{Logger: logger}).Register(router))

	err := router.Dispatch(context.Background(), "mystery", &fakeConn{}, wire.Int32(1))
	require.ErrorIs(t, err, event.ErrNoHandler)
	var dispatchErr *event.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "mystery", dispatchErr.Name)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "event_type=event_unrouted")
	assert.Contains(t, out, "event_name=mystery")
	assert.Contains(t, out, "error_hint=")
	require.Len(t, misses, 1)
	assert.ErrorIs(t, misses[0], event.ErrNoHandler)
}

func TestConnectAndDisconnectLogSession(t *testing.T) {
	var buf bytes.Buffer
	set := New(Deps{Logger: newLogger(&buf)})
	conn := &fakeConn{}

	require.NoError(t, set.Connect(context.Background(), conn, wire.String("10.0.0.5:4242")))
	require.NoError(t, set.Disconnect(context.Background(), conn))
	out := buf.String()
	assert.Contains(t, out, `msg="session started"`)
	assert.Contains(t, out, `msg="session ended"`)
	assert.Contains(t, out, "conn_id=conn-1")
}
