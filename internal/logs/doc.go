// Package logs reads aisio run logs for the CLI.
//
// Tail returns the last lines of a file with bounded memory. Follow polls for
// appended lines and re-resolves the aisio.log pointer, so following keeps
// working when a new run replaces the log file.
package logs
