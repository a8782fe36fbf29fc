package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channels observed on the dashboard connection. The set is open; any
// non-empty string is a valid channel.
const (
	ChannelMetrics        = "metrics"
	ChannelPods           = "pods"
	ChannelEvents         = "events"
	ChannelWorkflowUpdate = "workflow_update"
	ChannelHeartbeat      = "heartbeat"
)

// Errors
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrEmptyChannel = errors.New("channel type is empty")
)

// Message is the envelope for one frame.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds at creation
	ID        string          `json:"id"`
}

// New builds a message for channel with data marshalled to JSON.
// A nil data value is encoded as JSON null.
func New(channel string, data any) (Message, error) {
	return NewAt(channel, data, time.Now())
}

// NewAt is New with an explicit creation instant.
func NewAt(channel string, data any, at time.Time) (Message, error) {
	if channel == "" {
		return Message{}, ErrEmptyChannel
	}

	raw, err := marshalData(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	return Message{
		Type:      channel,
		Data:      raw,
		Timestamp: at.UnixMilli(),
		ID:        uuid.NewString(),
	}, nil
}

// Encode serialises the message into a single frame.
func (m Message) Encode() ([]byte, error) {
	if m.Type == "" {
		return nil, ErrEmptyChannel
	}
	if len(m.Data) == 0 {
		m.Data = json.RawMessage("null")
	}
	return json.Marshal(m)
}

// CreatedAt returns the creation instant.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Decode parses a frame. Anything that is not a JSON object with a non-empty
// string type returns ErrMalformed.
func Decode(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, ErrMalformed
	}

	var m Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

// DecodeData unmarshals the payload of m into T.
func DecodeData[T any](m Message) (T, error) {
	var v T
	if len(m.Data) == 0 {
		return v, fmt.Errorf("decode %s payload: empty data", m.Type)
	}
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return v, nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("invalid raw JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
