package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// clientFrame is the inbound downstream protocol superset: either
// {"type":"start","namespace":N} or {"event":"ack","data":{"id":ID}}.
type clientFrame struct {
	Type      string  `json:"type,omitempty"`
	Event     string  `json:"event,omitempty"`
	Namespace string  `json:"namespace,omitempty"`
	Data      ackData `json:"data,omitempty"`
}

type ackData struct {
	ID string `json:"id"`
}

// serverFrame is one outbound downstream protocol frame.
type serverFrame struct {
	Event       string `json:"event"`
	ID          string `json:"id,omitempty"`
	BatchNumber int64  `json:"batchNumber,omitempty"`
	Data        any    `json:"data,omitempty"`
}

type batchData struct {
	Events []Message `json:"events"`
}

type startedData struct {
	Namespace string `json:"namespace"`
}

// Message is one transformed protocol message as produced by an event
// listener. Event names the message kind (token-pool, token-mint, ...);
// Data carries the kind-specific payload including its correlation id.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func uuidString() string {
	return uuid.New().String()
}

func marshalFrame(frame serverFrame) ([]byte, error) {
	return json.Marshal(frame)
}
