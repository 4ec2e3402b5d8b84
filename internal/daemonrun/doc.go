// Package daemonrun assembles and runs one aisio role as a foreground
// process: signal handling, the per-run log file with its aisio.log pointer
// and retention, preflight, the codec, the optional journal, metrics, the
// handler set, and the daemon itself.
package daemonrun
