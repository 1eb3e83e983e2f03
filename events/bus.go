// Package events fans session events out to observers. Each device id is a
// topic; observers subscribe to one device or to all of them.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/models"
)

// AllTopics subscribes to every device topic.
const AllTopics = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Kind names an event published on the bus.
type Kind string

const (
	KindQR           Kind = "qr"
	KindReady        Kind = "ready"
	KindChats        Kind = "chats"
	KindNewMessage   Kind = "new_message"
	KindDisconnected Kind = "disconnected"
)

// Event is one published occurrence for a device.
type Event struct {
	DeviceID string
	Kind     Kind
	Data     any
}

// QRPayload carries a fresh auth artifact. Code is the raw provider string.
type QRPayload struct {
	Code string `json:"qr"`
}

// ReadyPayload is published when a session becomes operational.
type ReadyPayload struct {
	Authenticated bool          `json:"authenticated"`
	Chats         []models.Chat `json:"chats"`
}

// ChatsPayload is the chat listing after the initial sync.
type ChatsPayload struct {
	Chats []models.Chat `json:"chats"`
}

// NewMessagePayload carries a message recorded in a chat.
type NewMessagePayload struct {
	ChatID  string         `json:"chatId"`
	Message models.Message `json:"message"`
}

// DisconnectedPayload is published when a session drops.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

// Bus is an in-memory topic pub/sub. Publishing never blocks: events for a
// subscriber whose buffer is full are dropped. Nothing is retained once sent.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	closed      bool
	logger      *zap.Logger
}

// NewBus creates a bus. Pass nil logger for a no-op one.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logging.OrNop(logger).Named("events"),
	}
}

// Subscribe registers an observer on topic (a device id or AllTopics). The
// subscription is removed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", zap.String("topic", topic), zap.String("sub_id", subID))

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers ev to the subscribers of its device topic and of AllTopics.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.deliverLocked(ev.DeviceID, ev)
	if ev.DeviceID != AllTopics {
		b.deliverLocked(AllTopics, ev)
	}
}

func (b *Bus) deliverLocked(topic string, ev Event) {
	for subID, ch := range b.subscribers[topic] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("topic", topic),
				zap.String("sub_id", subID),
				zap.String("kind", string(ev.Kind)))
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", zap.String("topic", topic), zap.String("sub_id", subID))
}

// Subscribers returns the number of observers on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
}
