package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aisio/internal/event"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

// Event names answered by the built-in set.
const (
	Ping = "ping"
	Pong = "pong"
	Log  = "log"
)

// DefaultPruneInterval spaces journal pruning triggered from the loop event.
const DefaultPruneInterval = time.Hour

// Pruner removes journal history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps carries what the built-in handlers need.
type Deps struct {
	Logger *slog.Logger
	// Journal is optional; loop only prunes when it is set.
	Journal       Pruner
	RetentionDays int
	PruneInterval time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// Set is the built-in handler collection. Handlers are methods so tests can
// call them directly.
type Set struct {
	logger        *slog.Logger
	remote        *slog.Logger
	journal       Pruner
	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time

	pruneMu   sync.Mutex
	lastPrune time.Time
}

// New builds the handler set.
func New(deps Deps) *Set {
	logger := logging.NewComponentLogger(deps.Logger, "handlers")
	s := &Set{
		logger:        logger,
		remote:        logging.NewComponentLogger(deps.Logger, "remote"),
		journal:       deps.Journal,
		retention:     time.Duration(deps.RetentionDays) * 24 * time.Hour,
		pruneInterval: deps.PruneInterval,
		now:           deps.Now,
	}
	if s.pruneInterval <= 0 {
		s.pruneInterval = DefaultPruneInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register binds every built-in handler, leaving names already bound by the
// caller untouched.
func (s *Set) Register(router *event.Router) error {
	bindings := []struct {
		name    string
		handler event.Handler
	}{
		{event.Connect, s.Connect},
		{event.Disconnect, s.Disconnect},
		{event.Loop, s.Loop},
		{Ping, s.Ping},
		{Log, s.Log},
	}
	for _, b := range bindings {
		if router.Has(b.name) {
			continue
		}
		if err := router.Register(b.name, b.handler); err != nil {
			return fmt.Errorf("register %s: %w", b.name, err)
		}
	}
	return nil
}

// Connect logs the start of a session.
func (s *Set) Connect(_ context.Context, conn event.Conn, args ...wire.Value) error {
	addr := conn.RemoteAddr()
	if len(args) > 0 {
		if text, ok := args[0].AsString(); ok {
			addr = text
		}
	}
	s.logger.Info("session started",
		logging.ConnID(conn.ID()),
		logging.RemoteAddr(addr),
	)
	return nil
}

// Disconnect logs the end of a session.
func (s *Set) Disconnect(_ context.Context, conn event.Conn, _ ...wire.Value) error {
	s.logger.Info("session ended",
		logging.ConnID(conn.ID()),
		logging.RemoteAddr(conn.RemoteAddr()),
	)
	return nil
}

// Loop prunes the journal at most once per prune interval.
func (s *Set) Loop(ctx context.Context, _ event.Conn, _ ...wire.Value) error {
	if s.journal == nil || s.retention <= 0 {
		return nil
	}
	now := s.now()
	s.pruneMu.Lock()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.pruneInterval {
		s.pruneMu.Unlock()
		return nil
	}
	s.lastPrune = now
	s.pruneMu.Unlock()

	removed, err := s.journal.Prune(ctx, now.Add(-s.retention))
	if err != nil {
		return fmt.Errorf("prune journal: %w", err)
	}
	if removed > 0 {
		s.logger.Info("journal pruned", logging.Int64("rows", removed), logging.Duration("retention", s.retention))
	}
	return nil
}

// Ping answers with pong carrying the same arguments.
func (s *Set) Ping(_ context.Context, conn event.Conn, args ...wire.Value) error {
	if conn == nil {
		return errors.New("ping requires a connection")
	}
	return conn.Emit(Pong, args...)
}

// Log writes a line sent by the peer into the local log. Arguments are
// either (message) or (level, message); extra arguments are attached.
func (s *Set) Log(ctx context.Context, conn event.Conn, args ...wire.Value) error {
	if len(args) == 0 {
		return errors.New("log requires a message")
	}
	level := slog.LevelInfo
	msgIdx := 0
	if len(args) >= 2 {
		if text, ok := args[0].AsString(); ok {
			if lvl, known := parseLevel(text); known {
				level = lvl
				msgIdx = 1
			}
		}
	}
	message, ok := args[msgIdx].AsString()
	if !ok {
		message = args[msgIdx].String()
	}

	attrs := make([]slog.Attr, 0, 2)
	if conn != nil {
		attrs = append(attrs, logging.ConnID(conn.ID()))
	}
	if extra := args[msgIdx+1:]; len(extra) > 0 {
		attrs = append(attrs, logging.String("extra", wire.Array(extra...).String()))
	}
	s.remote.LogAttrs(ctx, level, message, attrs...)
	return nil
}

func parseLevel(text string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
