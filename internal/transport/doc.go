// Package transport runs the TCP side of the bridge.
//
// A Server accepts any number of peers and gives each its own read loop. A
// Client keeps a single session to a controller, reconnecting after a fixed
// delay. Both raise connect when a session starts, disconnect when it ends,
// and loop on a fixed tick. Records within one connection are dispatched
// strictly in receive order; writes to a connection are serialized so
// concurrent emitters never interleave bytes.
package transport
