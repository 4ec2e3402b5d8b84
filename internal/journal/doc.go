// Package journal keeps an optional SQLite history of sessions and the
// records exchanged on them.
//
// Recorder plugs into the transport as an Observer. The Store exposes the
// queries behind `aisio journal` and retention pruning. The journal is
// diagnostic only; schema changes bump schemaVersion and old files are
// discarded.
package journal
