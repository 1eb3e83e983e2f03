package models

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Direction tells whether a message was received or sent by the device
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// OutboundSender is the sender id recorded for messages sent by the device
const OutboundSender = "me"

// Message represents a chat message. Records are immutable once stored.
type Message struct {
	ID        string
	Sender    string
	Body      string
	Timestamp int64 // milliseconds since epoch, provider sourced
	Direction Direction
}

// FromMe reports whether the message was sent by the device
func (m Message) FromMe() bool {
	return m.Direction == Outbound
}

type messageJSON struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
}

// MarshalJSON renders the API shape {sender,message,timestamp,fromMe}
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:        m.ID,
		Sender:    m.Sender,
		Message:   m.Body,
		Timestamp: m.Timestamp,
		FromMe:    m.FromMe(),
	})
}

// UnmarshalJSON accepts the API shape
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		ID:        raw.ID,
		Sender:    raw.Sender,
		Body:      raw.Message,
		Timestamp: raw.Timestamp,
		Direction: Inbound,
	}
	if raw.FromMe {
		m.Direction = Outbound
	}
	return nil
}

// Chat represents a WhatsApp chat
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// Status represents the status of one device session
type Status struct {
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
	Ready    bool   `json:"ready"`
	HasQR    bool   `json:"hasQr"`
	Restarts int    `json:"restarts"`
	Parked   bool   `json:"parked,omitempty"`
}
