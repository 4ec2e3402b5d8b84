package api

import (
	"encoding/json"
	"time"

	"aisio/internal/transport"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Connection describes a live peer connection.
type Connection struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	RemoteAddr  string `json:"remoteAddr"`
	LocalAddr   string `json:"localAddr"`
	ConnectedAt string `json:"connectedAt"`
}

// Status is the runtime snapshot served at /api/status.
type Status struct {
	Running        bool         `json:"running"`
	Role           string       `json:"role"`
	Address        string       `json:"address"`
	PID            int          `json:"pid"`
	StartedAt      string       `json:"startedAt,omitempty"`
	UptimeSeconds  int64        `json:"uptimeSeconds"`
	ClientState    string       `json:"clientState,omitempty"`
	FailedAttempts int          `json:"failedAttempts,omitempty"`
	Connections    []Connection `json:"connections"`
	Handlers       []string     `json:"handlers"`
	LockFilePath   string       `json:"lockFilePath"`
	LogPath        string       `json:"logPath,omitempty"`
	JournalPath    string       `json:"journalPath,omitempty"`
	LastError      string       `json:"lastError,omitempty"`
}

// EmitRequest is the body of the emit and broadcast routes. Args must be a
// JSON array or absent.
type EmitRequest struct {
	Event string          `json:"event"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// EmitResponse reports how many connections accepted the event.
type EmitResponse struct {
	Delivered int `json:"delivered"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromConnInfo converts a transport snapshot.
func FromConnInfo(info transport.ConnInfo) Connection {
	return Connection{
		ID:          info.ID,
		Role:        string(info.Role),
		RemoteAddr:  info.RemoteAddr,
		LocalAddr:   info.LocalAddr,
		ConnectedAt: FormatTime(info.ConnectedAt),
	}
}

// FromConnInfos converts a slice, never returning nil.
func FromConnInfos(infos []transport.ConnInfo) []Connection {
	out := make([]Connection, 0, len(infos))
	for _, info := range infos {
		out = append(out, FromConnInfo(info))
	}
	return out
}

// FormatTime renders t for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
