package streams

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// Event types carried on the delivery stream.
const (
	EventDeliveryRequested = "delivery.requested"
	PayloadV1              = "v1"
)

// Envelope represents the canonical message wrapper persisted to Redis Streams.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// Delivery is the payload of a delivery.requested event: one webhook POST.
type Delivery struct {
	MessageID   string `json:"message_id"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
	Retries     int    `json:"retries"`
	ScheduleID  string `json:"schedule_id,omitempty"`
}

// NewDeliveryEnvelope wraps d for its given attempt. Attempt 0 is the first try.
func NewDeliveryEnvelope(d Delivery, attempt int) (Envelope, error) {
	if d.MessageID == "" {
		d.MessageID = newMessageID()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal delivery")
	}
	return Envelope{
		EventID:        uuid.NewString(),
		EventType:      EventDeliveryRequested,
		OccurredAt:     time.Now().UTC(),
		Attempt:        attempt,
		PayloadVersion: PayloadV1,
		Data:           data,
	}, nil
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}

// Delivery decodes the envelope payload.
func (e *Envelope) Delivery() (Delivery, error) {
	var d Delivery
	if e.EventType != EventDeliveryRequested {
		return d, errors.Invalid("envelope %s carries %q, not a delivery", e.EventID, e.EventType)
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, errors.Mark(errors.Wrap(err, "decode delivery"), errors.ErrInvalidRequest)
	}
	return d, nil
}

// ValidateBasic ensures mandatory envelope fields are present before schema validation.
func (e *Envelope) ValidateBasic() error {
	switch {
	case e.EventID == "":
		return errors.Invalid("event_id is required")
	case e.EventType == "":
		return errors.Invalid("event_type is required")
	case e.PayloadVersion == "":
		return errors.Invalid("payload_version is required")
	case e.Attempt < 0:
		return errors.Invalid("attempt must be >= 0")
	case len(e.Data) == 0:
		return errors.Invalid("data payload is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, errors.Mark(errors.Wrap(err, "unmarshal envelope"), errors.ErrInvalidRequest)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
