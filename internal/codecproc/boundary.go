package codecproc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"aisio/internal/frame"
	"aisio/internal/wire"
)

// SerializeJSON is the serialize side of the provider boundary implemented
// in process: a JSON `[name, args]` document becomes one delimited record.
// Args may be an array, a scalar, or 0 for none.
func SerializeJSON(codec *wire.Codec, doc []byte) ([]byte, error) {
	v, err := wire.FromJSON(doc)
	if err != nil {
		return nil, err
	}
	evt, err := frame.EventFromValue(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return frame.AssembleEvent(codec, evt.Name, evt.Args...), nil
}

// UnserializeJSON is the inverse: one record becomes `[name, args]` JSON with
// args always an array.
func UnserializeJSON(codec *wire.Codec, record []byte) ([]byte, error) {
	evt, err := frame.DecodeEvent(codec, bytes.TrimSpace(record))
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire.Array(wire.String(evt.Name), wire.Array(evt.Args...)))
}
