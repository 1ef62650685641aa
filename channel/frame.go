package channel

import "encoding/json"

const (
	frameEmit  = "emit"
	frameAck   = "ack"
	frameEvent = "event"
)

// frame is the unit written to the websocket. Emits and acks are correlated
// by ID; pushed events carry no ID.
type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}
