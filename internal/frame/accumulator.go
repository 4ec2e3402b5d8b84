package frame

import (
	"bytes"
	"errors"
	"fmt"

	"aisio/internal/wire"
)

// ErrPendingOverflow is returned when a partial record grows past the
// accumulator limit. The pending bytes are discarded.
var ErrPendingOverflow = errors.New("partial record exceeds buffer limit")

// DefaultMaxPending bounds the bytes held for one unterminated record.
const DefaultMaxPending = 1 << 20

// Accumulator buffers a connection's byte stream so records split across
// reads are reassembled. It is owned by a single read loop and is not safe
// for concurrent use.
type Accumulator struct {
	pending    []byte
	maxPending int
}

// NewAccumulator returns an accumulator bounded to maxPending bytes of
// unterminated data. Values below one select DefaultMaxPending.
func NewAccumulator(maxPending int) *Accumulator {
	if maxPending < 1 {
		maxPending = DefaultMaxPending
	}
	return &Accumulator{maxPending: maxPending}
}

// Feed appends chunk and returns every record completed by it. Returned
// slices are owned by the caller.
func (a *Accumulator) Feed(chunk []byte) ([][]byte, error) {
	a.pending = append(a.pending, chunk...)
	last := bytes.LastIndexByte(a.pending, wire.RecordDelimiter)
	if last < 0 {
		return nil, a.checkOverflow()
	}
	complete := bytes.Clone(a.pending[:last+1])
	rest := a.pending[last+1:]
	a.pending = append(a.pending[:0], rest...)
	return wire.SplitRecords(complete), a.checkOverflow()
}

// Flush returns whatever is buffered as a final record, for use at end of
// stream where the last delimiter may be elided.
func (a *Accumulator) Flush() []byte {
	if len(a.pending) == 0 {
		return nil
	}
	out := bytes.Clone(a.pending)
	a.pending = a.pending[:0]
	return out
}

// Pending reports the number of buffered bytes awaiting a delimiter.
func (a *Accumulator) Pending() int {
	return len(a.pending)
}

func (a *Accumulator) checkOverflow() error {
	if len(a.pending) <= a.maxPending {
		return nil
	}
	size := len(a.pending)
	a.pending = a.pending[:0]
	return fmt.Errorf("%w: %d bytes pending, limit %d", ErrPendingOverflow, size, a.maxPending)
}
