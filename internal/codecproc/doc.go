// Package codecproc runs record encoding and decoding in external programs.
//
// The boundary is JSON: serialize programs receive `[name, args]` and print a
// record, unserialize programs receive a record and print `[name, args]`.
// Failures are logged and surface as ProviderError so callers treat them like
// any other encode or decode failure.
package codecproc
