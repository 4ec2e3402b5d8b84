package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

const writeTimeout = 5 * time.Second

// Recorder journals transport activity. It implements transport.Observer;
// write failures are logged and never reach the connection.
type Recorder struct {
	transport.NopObserver
	store  *Store
	logger *slog.Logger
	failed atomic.Int64
}

// NewRecorder wraps store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logging.NewComponentLogger(logger, "journal")}
}

// Failures reports how many journal writes have failed.
func (r *Recorder) Failures() int64 { return r.failed.Load() }

func (r *Recorder) ConnectionOpened(info transport.ConnInfo) {
	r.write("open session", func(ctx context.Context) error {
		return r.store.OpenSession(ctx, Session{
			ID:         info.ID,
			Role:       string(info.Role),
			RemoteAddr: info.RemoteAddr,
			LocalAddr:  info.LocalAddr,
			OpenedAt:   info.ConnectedAt,
		})
	})
}

func (r *Recorder) ConnectionClosed(info transport.ConnInfo, err error) {
	r.write("close session", func(ctx context.Context) error {
		return r.store.CloseSession(ctx, info.ID, time.Now(), errText(err))
	})
}

func (r *Recorder) RecordReceived(info transport.ConnInfo, evt frame.Event, size int) {
	r.append(info, DirectionIn, evt, size, nil)
}

func (r *Recorder) RecordDropped(info transport.ConnInfo, record []byte, err error) {
	r.append(info, DirectionDropped, frame.Event{}, len(record), err)
}

func (r *Recorder) EventEmitted(info transport.ConnInfo, evt frame.Event, size int, err error) {
	r.append(info, DirectionOut, evt, size, err)
}

func (r *Recorder) append(info transport.ConnInfo, dir Direction, evt frame.Event, size int, err error) {
	r.write("append entry", func(ctx context.Context) error {
		args, marshalErr := json.Marshal(wire.Array(evt.Args...))
		if marshalErr != nil {
			args = []byte("[]")
		}
		return r.store.Append(ctx, Entry{
			SessionID: info.ID,
			Direction: dir,
			Name:      evt.Name,
			Args:      args,
			Bytes:     size,
			Error:     errText(err),
		})
	})
}

func (r *Recorder) write(op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		if r.failed.Add(1) == 1 || r.logger.Enabled(ctx, slog.LevelDebug) {
			logging.WarnWithContext(r.logger, "journal write failed", "journal_write_failed",
				logging.String("op", op),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check disk space and journal.path permissions"),
				logging.String(logging.FieldImpact, "journal history is incomplete; traffic is unaffected"),
			)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ transport.Observer = (*Recorder)(nil)
