package events

import "github.com/mbenaiss/whatsapp-gateway/models"

// TopicMessageRecorded is the in-process hook topic carrying every message a
// session records. Handlers receive a MessageRecorded value.
const TopicMessageRecorded = "session:message_recorded"

// MessageRecorded describes a message appended to a conversation
type MessageRecorded struct {
	DeviceID string
	ChatID   string
	Message  models.Message
}
