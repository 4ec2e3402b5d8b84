package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"aisio/internal/event"
	"aisio/internal/wire"
)

type stubConn struct{ id string }

func (c stubConn) ID() string                       { return c.id }
func (c stubConn) RemoteAddr() string               { return "127.0.0.1:1" }
func (c stubConn) Emit(string, ...wire.Value) error { return nil }

func TestDispatchPassesConnAndArgs(t *testing.T) {
	router := event.NewRouter(event.Config{})

	var gotConn event.Conn
	var gotArgs []wire.Value
	router.MustRegister("move", func(_ context.Context, conn event.Conn, args ...wire.Value) error {
		gotConn = conn
		gotArgs = args
		return nil
	})

	conn := stubConn{id: "c1"}
	err := router.Dispatch(context.Background(), "move", conn, wire.Int32(10), wire.Int32(20))
	require.NoError(t, err)
	assert.Equal(t, conn, gotConn)
	require.Len(t, gotArgs, 2)
	assert.True(t, gotArgs[1].Equal(wire.Int32(20)))
}

func TestDispatchWithoutArgs(t *testing.T) {
	router := event.NewRouter(event.Config{})
	calls := 0
	router.MustRegister("tick", func(_ context.Context, _ event.Conn, args ...wire.Value) error {
		calls++
		assert.Len(t, args, 0)
		return nil
	})
	require.NoError(t, router.Dispatch(context.Background(), "tick", nil))
	assert.Equal(t, 1, calls)
}

func TestDispatchMissingHandler(t *testing.T) {
	var observed error
	router := event.NewRouter(event.Config{
		OnDispatch: func(name string, _ event.Conn, _ time.Duration, err error) {
			observed = err
		},
	})

	err := router.Dispatch(context.Background(), "unknown", nil)
	require.ErrorIs(t, err, event.ErrNoHandler)
	var dispatchErr *event.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "unknown", dispatchErr.Name)
	assert.ErrorIs(t, observed, event.ErrNoHandler)
}

func TestMissingHandlerDoesNotAffectLaterDispatch(t *testing.T) {
	router := event.NewRouter(event.Config{})
	var delivered []string
	router.MustRegister("b", func(ctx context.Context, _ event.Conn, _ ...wire.Value) error {
		delivered = append(delivered, "b")
		return nil
	})

	for _, name := range []string{"a", "b", "a", "b"} {
		_ = router.Dispatch(context.Background(), name, nil)
	}
	assert.Equal(t, []string{"b", "b"}, delivered)
}

func TestRegisterOverwrites(t *testing.T) {
	router := event.NewRouter(event.Config{})
	var which string
	router.MustRegister("x", func(context.Context, event.Conn, ...wire.Value) error { which = "first"; return nil })
	router.MustRegister("x", func(context.Context, event.Conn, ...wire.Value) error { which = "second"; return nil })

	require.NoError(t, router.Dispatch(context.Background(), "x", nil))
	assert.Equal(t, "second", which)
	assert.Equal(t, []string{"x"}, router.Names())
}

func TestRegisterValidation(t *testing.T) {
	router := event.NewRouter(event.Config{})
	assert.Error(t, router.Register("", func(context.Context, event.Conn, ...wire.Value) error { return nil }))
	assert.Error(t, router.Register("x", nil))

	router.Seal()
	assert.True(t, router.Sealed())
	err := router.Register("late", func(context.Context, event.Conn, ...wire.Value) error { return nil })
	assert.ErrorIs(t, err, event.ErrSealed)
	assert.False(t, router.Has("late"))
}

func TestWildcardReceivesUnclaimedEvents(t *testing.T) {
	router := event.NewRouter(event.Config{})
	var names []string
	router.MustRegister(event.Wildcard, func(ctx context.Context, _ event.Conn, _ ...wire.Value) error {
		name, ok := event.NameFromContext(ctx)
		require.True(t, ok)
		names = append(names, name)
		return nil
	})
	router.MustRegister("known", func(context.Context, event.Conn, ...wire.Value) error { return nil })

	require.NoError(t, router.Dispatch(context.Background(), "known", nil))
	require.NoError(t, router.Dispatch(context.Background(), "other", nil))
	assert.Equal(t, []string{"other"}, names)
	assert.False(t, router.Has("other"))
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	router := event.NewRouter(event.Config{})
	router.MustRegister("boom", func(context.Context, event.Conn, ...wire.Value) error {
		panic("kaboom")
	})

	err := router.Dispatch(context.Background(), "boom", nil)
	require.ErrorIs(t, err, event.ErrHandlerPanic)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestHandlerErrorIsWrapped(t *testing.T) {
	sentinel := errors.New("bad input")
	router := event.NewRouter(event.Config{})
	router.MustRegister("fail", func(context.Context, event.Conn, ...wire.Value) error { return sentinel })

	err := router.Dispatch(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestDispatchRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	router := event.NewRouter(event.Config{Tracer: tp.Tracer("test")})
	router.MustRegister("ok", func(context.Context, event.Conn, ...wire.Value) error { return nil })
	router.MustRegister("bad", func(context.Context, event.Conn, ...wire.Value) error { return errors.New("nope") })

	require.NoError(t, router.Dispatch(context.Background(), "ok", stubConn{id: "c9"}, wire.Bool(true)))
	require.Error(t, router.Dispatch(context.Background(), "bad", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "event.dispatch", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	var name, connID string
	for _, attr := range spans[0].Attributes {
		switch attr.Key {
		case "event.name":
			name = attr.Value.AsString()
		case "conn.id":
			connID = attr.Value.AsString()
		}
	}
	assert.Equal(t, "ok", name)
	assert.Equal(t, "c9", connID)
}

func TestConcurrentDispatch(t *testing.T) {
	router := event.NewRouter(event.Config{})
	var count atomic.Int64
	router.MustRegister("inc", func(context.Context, event.Conn, ...wire.Value) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = router.Dispatch(context.Background(), "inc", nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(3200), count.Load())
}
