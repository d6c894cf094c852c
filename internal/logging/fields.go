package logging

// Standardized attribute keys. Components use these instead of ad-hoc strings
// so log queries and the console handler stay consistent.
const (
	FieldComponent  = "component"
	FieldEventType  = "event_type"
	FieldSerial     = "serial"
	FieldSerialID   = "serial_id"
	FieldEpisodeKey = "episode_key"
	FieldStage      = "stage"
	FieldAttempt    = "attempt"
	FieldRunID      = "run_id"
	FieldVideoID    = "video_id"
	FieldAlert      = "alert"
	FieldErrorHint  = "error_hint"
)
