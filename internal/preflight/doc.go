// Package preflight provides readiness checks run before a bridge role
// starts and reported by `aisio status`.
//
// Checks cover the state and log directories, the string charset, the open
// file limit against server.max_connections, and the external codec
// programs when codec.provider is "external".
package preflight
