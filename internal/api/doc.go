// Package api defines the JSON payloads of the status API and a small client
// used by the CLI to reach a running process.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds.
// Event arguments travel as plain JSON arrays and are converted with the wire
// package's JSON bridge, so integers that fit 32 bits arrive as Int32 and
// numbers with a fraction as Double.
package api
