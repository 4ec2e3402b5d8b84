package logging

// Standard structured logging keys.
const (
	FieldComponent  = "component"
	FieldEventType  = "event_type"
	FieldErrorHint  = "error_hint"
	FieldImpact     = "impact"
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldEventName  = "event_name"
	FieldRole       = "role"
	FieldRunID      = "run_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
