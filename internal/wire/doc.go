// Package wire implements the typed value grammar spoken by AutoIt socket
// peers.
//
// Every value is written as `tag|payload` followed by a delimiter: `#` at the
// top level, `$` between elements of an array. String and array payloads are
// hex encoded behind a `0x` prefix, which keeps both delimiters out of them.
// Binary payloads are written raw and therefore cannot carry either delimiter;
// CheckEncodable rejects those values before they reach a peer.
package wire
