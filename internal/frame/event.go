package frame

import (
	"context"
	"fmt"

	"aisio/internal/wire"
)

// Event is one named message with its positional arguments. A nil or empty
// Args slice means the event carries no arguments.
type Event struct {
	Name string
	Args []wire.Value
}

// Value renders e as the two element record array. Events without arguments
// carry Int32(0) in the argument slot.
func (e Event) Value() wire.Value {
	if len(e.Args) == 0 {
		return wire.Array(wire.String(e.Name), wire.Int32(0))
	}
	return wire.Array(wire.String(e.Name), wire.Array(e.Args...))
}

// EventFromValue normalizes a decoded record into an Event. The argument slot
// may be an array, a zero sentinel (integer zero or Keyword), a lone scalar,
// or absent entirely.
func EventFromValue(v wire.Value) (Event, error) {
	if v.Kind() != wire.KindArray {
		return Event{}, &wire.DecodeError{Segment: v.String(), Reason: fmt.Sprintf("record is %s, want array", v.Kind())}
	}
	items := v.Items()
	if len(items) == 0 || len(items) > 2 {
		return Event{}, &wire.DecodeError{Segment: v.String(), Reason: fmt.Sprintf("record has %d elements, want 1 or 2", len(items))}
	}
	name, ok := items[0].AsString()
	if !ok {
		return Event{}, &wire.DecodeError{Segment: v.String(), Reason: fmt.Sprintf("event name is %s, want string", items[0].Kind())}
	}
	if name == "" {
		return Event{}, &wire.DecodeError{Segment: v.String(), Reason: "empty event name"}
	}
	evt := Event{Name: name}
	if len(items) == 1 {
		return evt, nil
	}
	slot := items[1]
	switch {
	case slot.Kind() == wire.KindArray:
		if slot.Len() > 0 {
			evt.Args = slot.Items()
		}
	case slot.IsZeroSentinel():
	default:
		evt.Args = []wire.Value{slot}
	}
	return evt, nil
}

// AssembleEvent encodes one outbound record including its delimiter.
func AssembleEvent(codec *wire.Codec, name string, args ...wire.Value) []byte {
	if codec == nil {
		codec = wire.Default
	}
	return codec.Encode(Event{Name: name, Args: args}.Value())
}

// Split breaks an inbound read into raw records. Trailing delimiters are
// dropped and partial records are not retained; see Accumulator.
func Split(data []byte) [][]byte {
	return wire.SplitRecords(data)
}

// DecodeEvent decodes one raw record into an Event.
func DecodeEvent(codec *wire.Codec, record []byte) (Event, error) {
	if codec == nil {
		codec = wire.Default
	}
	v, err := codec.Decode(record)
	if err != nil {
		return Event{}, err
	}
	return EventFromValue(v)
}

// Codec turns events into records and back. Implementations must be safe for
// concurrent use.
type Codec interface {
	EncodeEvent(ctx context.Context, evt Event) ([]byte, error)
	DecodeRecord(ctx context.Context, record []byte) (Event, error)
}

// Builtin is the in-process Codec.
type Builtin struct {
	codec *wire.Codec
}

// NewBuiltin wraps a wire codec. Nil selects the UTF-8 default.
func NewBuiltin(codec *wire.Codec) *Builtin {
	if codec == nil {
		codec = wire.Default
	}
	return &Builtin{codec: codec}
}

func (b *Builtin) EncodeEvent(_ context.Context, evt Event) ([]byte, error) {
	if evt.Name == "" {
		return nil, fmt.Errorf("encode event: empty name")
	}
	for i, arg := range evt.Args {
		if err := wire.CheckEncodable(arg); err != nil {
			return nil, fmt.Errorf("encode event %q: arg %d: %w", evt.Name, i, err)
		}
	}
	return AssembleEvent(b.codec, evt.Name, evt.Args...), nil
}

func (b *Builtin) DecodeRecord(_ context.Context, record []byte) (Event, error) {
	return DecodeEvent(b.codec, record)
}

var _ Codec = (*Builtin)(nil)
