package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTag marks a record whose tag is not part of the grammar.
	ErrUnknownTag = errors.New("unknown wire tag")
	// ErrMissingHexPrefix marks a hex payload without the 0x prefix.
	ErrMissingHexPrefix = errors.New("hex payload missing 0x prefix")
	// ErrBinaryDelimiter marks a Binary payload holding '#' or '$'.
	ErrBinaryDelimiter = errors.New("binary payload contains a delimiter")
)

const maxSegmentPreview = 64

// DecodeError identifies the record or field that failed to decode.
type DecodeError struct {
	Segment string
	Reason  string
	Err     error
}

func newDecodeError(seg []byte, reason string, err error) *DecodeError {
	return &DecodeError{Segment: string(seg), Reason: reason, Err: err}
}

func (e *DecodeError) Error() string {
	seg := e.Segment
	if len(seg) > maxSegmentPreview {
		seg = seg[:maxSegmentPreview] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", seg, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", seg, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }
