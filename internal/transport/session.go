package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

// sessionConfig carries the read-side settings shared by both roles.
type sessionConfig struct {
	router     *event.Router
	codec      frame.Codec
	chunkSize  int
	accumulate bool
	observer   Observer
	logger     *slog.Logger
}

// readLoop owns conn's read side: it reads chunks, splits them into records,
// decodes each record and dispatches it in receive order. It returns nil at
// end of stream and the read error otherwise.
func (s sessionConfig) readLoop(ctx context.Context, conn *Conn) error {
	buf := make([]byte, s.chunkSize)
	var acc *frame.Accumulator
	if s.accumulate {
		acc = frame.NewAccumulator(0)
	}

	for {
		n, err := conn.nc.Read(buf)
		if n > 0 {
			if acc != nil {
				records, accErr := acc.Feed(buf[:n])
				if accErr != nil {
					s.drop(conn, nil, accErr)
				}
				s.handleRecords(ctx, conn, records)
			} else {
				s.handleRecords(ctx, conn, frame.Split(buf[:n]))
			}
		}
		if err != nil {
			if acc != nil {
				if tail := acc.Flush(); len(tail) > 0 {
					s.handleRecords(ctx, conn, frame.Split(tail))
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s sessionConfig) handleRecords(ctx context.Context, conn *Conn, records [][]byte) {
	for _, record := range records {
		evt, err := s.codec.DecodeRecord(ctx, record)
		if err != nil {
			s.drop(conn, record, err)
			continue
		}
		s.observer.RecordReceived(conn.info, evt, len(record))
		conn.logger.Debug("event received",
			logging.EventName(evt.Name),
			logging.Int("args", len(evt.Args)),
		)
		// Dispatch errors are logged by the router and never end the session.
		_ = s.router.Dispatch(ctx, evt.Name, conn, evt.Args...)
	}
}

func (s sessionConfig) drop(conn *Conn, record []byte, err error) {
	s.observer.RecordDropped(conn.info, record, err)
	logging.WarnWithContext(conn.logger, "record dropped", "record_dropped",
		logging.Error(err),
		logging.Int("bytes", len(record)),
		logging.String(logging.FieldErrorHint, "peer sent a malformed or unsupported record"),
		logging.String(logging.FieldImpact, "record skipped; later records still processed"),
	)
}

// raise dispatches a lifecycle event only when something is registered for
// it, so neither the catch-all nor the miss log sees housekeeping traffic.
func raise(ctx context.Context, router *event.Router, name string, conn event.Conn, args ...wire.Value) {
	if !router.Has(name) {
		return
	}
	_ = router.Dispatch(ctx, name, conn, args...)
}
