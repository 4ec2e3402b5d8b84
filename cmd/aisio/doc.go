// Package main hosts the aisio CLI entrypoint and command graph.
//
// The Cobra-based command tree runs either role in the foreground, talks to a
// running process through its status API, exposes the wire codec as a
// command line filter, and reads the event journal. Configuration resolution
// lives here so subcommands can focus on output instead of wiring.
package main
