// Package frame maps events onto wire records and records onto events.
//
// A record is the array [name, args] terminated by `#`; an event without
// arguments carries Int32(0) instead of an array. Inbound reads are split on
// the delimiter with Split, or reassembled across reads with an Accumulator
// when the peer may fragment records.
//
// The zero sentinel is reserved: a record whose argument slot is an integer
// zero or Keyword is delivered with no arguments. A genuine single zero
// argument must travel inside an array, which AssembleEvent always does.
package frame
