package binance

import "encoding/json"

// GenericResponse is the minimal view of any frame payload. It is enough to
// tell a combined-stream envelope from a single event and to pick the event
// variant.
type GenericResponse struct {
	StreamEnvelope
	EventType string `json:"e,omitempty"`
	// EventTime is only here so that "E" is not matched case-insensitively
	// onto EventType.
	EventTime json.RawMessage `json:"E,omitempty"`
}

// IsEnvelope reports whether the payload is a combined-stream envelope.
func (r GenericResponse) IsEnvelope() bool {
	return r.Stream != "" && len(r.Data) > 0
}

// StreamEnvelope is the wrapper used on combined-stream connections
// (/stream?streams=a/b).
type StreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
