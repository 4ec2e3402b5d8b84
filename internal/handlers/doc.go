// Package handlers provides the event handlers every bridge process starts
// with: session logging on connect and disconnect, journal pruning on loop,
// ping/pong and remote log forwarding. Unrouted events are left to the
// router, which logs them as errors.
package handlers
