package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the serialized {task_id, payload} unit exchanged via the
// broker (spec.md GLOSSARY, §4.1). task_id is preserved across every
// downstream stage per invariant 6 in spec.md §3.
type Envelope struct {
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and assigns it a fresh task id if taskID
// is empty, matching "generate a task envelope {task_id, payload} if
// none present" in spec.md §4.1.
func NewEnvelope(taskID string, payload any) (Envelope, error) {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{TaskID: taskID, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

func (e Envelope) serialize() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deserializeEnvelope(s string) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal([]byte(s), &e)
	return e, err
}

// failureRecord is the value pushed to failed:Q on ack_failure.
type failureRecord struct {
	Error     string    `json:"error"`
	Envelope  Envelope  `json:"envelope"`
	Timestamp time.Time `json:"timestamp"`
}
