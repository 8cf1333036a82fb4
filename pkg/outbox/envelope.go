package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// ErrEmptyPayload is returned when an envelope carries no event data.
var ErrEmptyPayload = errors.New("envelope has no data")

// PayloadEnvelope is the JSON document stored in outbox_events.payload_json
// and published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeData unmarshals the event data into v.
func (e PayloadEnvelope) DecodeData(v any) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyPayload
	}
	return json.Unmarshal(trimmed, v)
}
