// Package daemonctl controls aisio processes from the outside: pid files,
// liveness checks, graceful stop with a forced-kill fallback, and status
// snapshots that degrade to file inspection when the status API is down.
package daemonctl
