package whatsapp

import (
	"context"

	"github.com/mbenaiss/whatsapp-gateway/models"
)

// EventKind names an event emitted by a provider session
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventMessage       EventKind = "message"
	EventMessageSent   EventKind = "message-sent"
	EventDisconnected  EventKind = "disconnected"
)

// Event is emitted by a provider. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	QR      string
	ChatID  string
	Message models.Message
	Reason  string
}

// Handler receives provider events
type Handler func(Event)

// Provider is one messaging account session. Implementations deliver events
// for a single session in emission order.
type Provider interface {
	// On registers a handler for kind. Handlers must be registered before Initialize.
	On(kind EventKind, h Handler)
	// Initialize starts authentication; it returns once the attempt is under way.
	Initialize(ctx context.Context) error
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	FetchHistory(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	// Send delivers text and returns the outbound record of the sent message.
	Send(ctx context.Context, chatID, text string) (models.Message, error)
	Logout(ctx context.Context) error
	Destroy() error
}

// Factory builds a fresh provider for a device id
type Factory func(deviceID string) (Provider, error)
