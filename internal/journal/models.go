package journal

import (
	"encoding/json"
	"time"
)

// Direction classifies a journaled event.
type Direction string

const (
	DirectionIn      Direction = "in"
	DirectionOut     Direction = "out"
	DirectionDropped Direction = "dropped"
)

// Session is one connection lifetime.
type Session struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	RemoteAddr     string    `json:"remote_addr"`
	LocalAddr      string    `json:"local_addr,omitempty"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at,omitzero"`
	CloseError     string    `json:"close_error,omitempty"`
	RecordsIn      int64     `json:"records_in"`
	RecordsOut     int64     `json:"records_out"`
	RecordsDropped int64     `json:"records_dropped"`
}

// Open reports whether the session has not been closed.
func (s Session) Open() bool { return s.ClosedAt.IsZero() }

// Entry is one journaled record.
type Entry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Direction Direction       `json:"direction"`
	Name      string          `json:"name,omitempty"`
	Args      json.RawMessage `json:"args"`
	Bytes     int             `json:"bytes"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows Events queries. Zero fields match everything.
type Filter struct {
	SessionID string
	Name      string
	Direction Direction
	Since     time.Time
	Limit     int
}

// DefaultQueryLimit caps queries that do not set a limit.
const DefaultQueryLimit = 100
