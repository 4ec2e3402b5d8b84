// Package logging assembles the structured slog loggers used by every aisio
// component.
//
// It owns the console and JSON handlers, level parsing, output fan-out, and
// run log retention. Warnings go through WarnWithContext so each one carries
// an event type, a hint, and the user-facing impact.
package logging
