// Package daemon coordinates one long-running aisio role and its system
// integration points.
//
// A Daemon owns either a transport.Server or a transport.Client, takes a
// flock-based lock so only one process serves a given role and port, and
// exposes a small HTTP API for status, manual emits, and Prometheus metrics.
//
// Keep orchestration logic here: framing, dispatch, and socket handling live
// in their own packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
