// Package event routes decoded events to named handlers.
//
// The connection manager raises the reserved events connect, disconnect and
// loop directly; every other name comes off the wire. A handler bound to "*"
// receives events nobody else claimed.
package event
