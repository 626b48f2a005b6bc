package heartbeat

import (
	"encoding/json"
	"time"

	"github.com/sammoh94/pulsarkit/errors"
)

// SubjectPrefix is the subject prefix for ping messages.
const SubjectPrefix = "heartbeat."

// Ping is a single liveness message from a client.
type Ping struct {
	// ClientID identifies the sending client.
	ClientID string `json:"client_id"`

	// Sequence increases by one for every ping a sender publishes.
	Sequence uint64 `json:"sequence"`

	// Timestamp when the ping was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the subject pings from clientID are published on.
func Subject(clientID string) string {
	return SubjectPrefix + clientID
}

// Marshal serializes a ping to JSON.
func (p *Ping) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.FromSerde(err)
	}
	return data, nil
}

// Unmarshal deserializes a ping. A malformed ping yields a
// Deserialization error.
func Unmarshal(data []byte) (*Ping, error) {
	var p Ping
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Deserialization(err)
	}
	return &p, nil
}
