package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aisio/internal/logging"
	"aisio/internal/wire"
)

// Reserved event names raised by the connection manager.
const (
	Connect    = "connect"
	Disconnect = "disconnect"
	Loop       = "loop"
	// Wildcard receives events that have no named handler.
	Wildcard = "*"
)

var (
	// ErrNoHandler is returned when neither a named nor a catch-all handler
	// exists for an event.
	ErrNoHandler = errors.New("no handler registered")
	// ErrSealed is returned by Register after Seal.
	ErrSealed = errors.New("router is sealed")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Conn is the connection handle passed to handlers. Lifecycle handlers for
// the server tick receive a nil Conn.
type Conn interface {
	ID() string
	RemoteAddr() string
	Emit(name string, args ...wire.Value) error
}

// Handler processes one event. The arguments are the decoded positional
// values; an event without arguments invokes the handler with none.
type Handler func(ctx context.Context, conn Conn, args ...wire.Value) error

// DispatchError reports a dispatch that found no handler or whose handler
// failed.
type DispatchError struct {
	Name string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %q: %v", e.Name, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Config configures a Router.
type Config struct {
	Logger *slog.Logger
	// Tracer overrides the global otel tracer.
	Tracer trace.Tracer
	// OnDispatch is called after every dispatch, including misses.
	OnDispatch func(name string, conn Conn, duration time.Duration, err error)
}

// Router maps event names to handlers. Registration normally completes
// before any connection is served; Seal enforces that.
type Router struct {
	logger     *slog.Logger
	tracer     trace.Tracer
	onDispatch func(string, Conn, time.Duration, error)

	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewRouter creates an empty router.
func NewRouter(cfg Config) *Router {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("aisio/event")
	}
	return &Router{
		logger:     logging.NewComponentLogger(cfg.Logger, "router"),
		tracer:     tracer,
		onDispatch: cfg.OnDispatch,
		handlers:   make(map[string]Handler),
	}
}

// Register binds handler to name, replacing any previous binding.
func (r *Router) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("register handler: empty event name")
	}
	if handler == nil {
		return fmt.Errorf("register handler %q: nil handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register handler %q: %w", name, ErrSealed)
	}
	if _, exists := r.handlers[name]; exists {
		r.logger.Debug("replacing event handler", logging.EventName(name))
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register for setup code where failure is a programming
// error.
func (r *Router) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Seal rejects further registration.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Router) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Has reports whether a handler is bound to exactly name. The catch-all is
// not consulted.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered event names in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Dispatch invokes the handler for name. When no named handler exists the
// catch-all receives the event; NameFromContext reports the original name.
// A miss is logged and returned as a DispatchError wrapping ErrNoHandler.
// Handler panics are recovered and reported the same way as handler errors.
func (r *Router) Dispatch(ctx context.Context, name string, conn Conn, args ...wire.Value) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	r.mu.RLock()
	handler, ok := r.handlers[name]
	if !ok {
		handler, ok = r.handlers[Wildcard]
	}
	r.mu.RUnlock()

	connID := ""
	if conn != nil {
		connID = conn.ID()
	}

	if !ok {
		err := &DispatchError{Name: name, Err: ErrNoHandler}
		logging.ErrorWithContext(r.logger, "no handler for event", "event_unrouted",
			logging.EventName(name),
			logging.ConnID(connID),
			logging.Int("args", len(args)),
			logging.String(logging.FieldErrorHint, "register a handler for this event name"),
		)
		r.notify(name, conn, time.Since(start), err)
		return err
	}

	ctx = withName(ctx, name)
	ctx, span := r.tracer.Start(ctx, "event.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.name", name),
			attribute.Int("event.args", len(args)),
			attribute.String("conn.id", connID),
		),
	)
	defer span.End()

	err := invoke(ctx, handler, conn, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = &DispatchError{Name: name, Err: err}
		logging.ErrorWithContext(r.logger, "event handler failed", "event_handler_failed",
			logging.EventName(name),
			logging.ConnID(connID),
			logging.Error(err),
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	r.notify(name, conn, time.Since(start), err)
	return err
}

func invoke(ctx context.Context, handler Handler, conn Conn, args []wire.Value) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, rec, debug.Stack())
		}
	}()
	return handler(ctx, conn, args...)
}

func (r *Router) notify(name string, conn Conn, d time.Duration, err error) {
	if r.onDispatch != nil {
		r.onDispatch(name, conn, d, err)
	}
}

type nameKey struct{}

func withName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nameKey{}, name)
}

// NameFromContext returns the event name being dispatched.
func NameFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	name, ok := ctx.Value(nameKey{}).(string)
	return name, ok
}
