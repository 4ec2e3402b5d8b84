package transport

import (
	"aisio/internal/frame"
)

// Observer receives connection and record notifications. Implementations are
// called from connection goroutines and must be safe for concurrent use.
type Observer interface {
	ConnectionOpened(info ConnInfo)
	ConnectionClosed(info ConnInfo, err error)
	RecordReceived(info ConnInfo, evt frame.Event, size int)
	RecordDropped(info ConnInfo, record []byte, err error)
	EventEmitted(info ConnInfo, evt frame.Event, size int, err error)
	DialFailed(addr string, attempt int, err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ConnectionOpened(ConnInfo)                      {}
func (NopObserver) ConnectionClosed(ConnInfo, error)               {}
func (NopObserver) RecordReceived(ConnInfo, frame.Event, int)      {}
func (NopObserver) RecordDropped(ConnInfo, []byte, error)          {}
func (NopObserver) EventEmitted(ConnInfo, frame.Event, int, error) {}
func (NopObserver) DialFailed(string, int, error)                  {}

// Observers fans notifications out to every member in order.
type Observers []Observer

func newObservers(list []Observer) Observers {
	out := make(Observers, 0, len(list))
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (obs Observers) ConnectionOpened(info ConnInfo) {
	for _, o := range obs {
		o.ConnectionOpened(info)
	}
}

func (obs Observers) ConnectionClosed(info ConnInfo, err error) {
	for _, o := range obs {
		o.ConnectionClosed(info, err)
	}
}

func (obs Observers) RecordReceived(info ConnInfo, evt frame.Event, size int) {
	for _, o := range obs {
		o.RecordReceived(info, evt, size)
	}
}

func (obs Observers) RecordDropped(info ConnInfo, record []byte, err error) {
	for _, o := range obs {
		o.RecordDropped(info, record, err)
	}
}

func (obs Observers) EventEmitted(info ConnInfo, evt frame.Event, size int, err error) {
	for _, o := range obs {
		o.EventEmitted(info, evt, size, err)
	}
}

func (obs Observers) DialFailed(addr string, attempt int, err error) {
	for _, o := range obs {
		o.DialFailed(addr, attempt, err)
	}
}

var (
	_ Observer = NopObserver{}
	_ Observer = Observers(nil)
)
