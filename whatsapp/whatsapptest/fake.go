// Package whatsapptest provides an in-memory Provider for tests.
package whatsapptest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbenaiss/whatsapp-gateway/models"
	"github.com/mbenaiss/whatsapp-gateway/whatsapp"
)

// Sent records one Send call
type Sent struct {
	ChatID string
	Text   string
}

// Provider is a scriptable whatsapp.Provider. Tests drive it with Emit.
type Provider struct {
	DeviceID string

	mu          sync.Mutex
	handlers    map[whatsapp.EventKind][]whatsapp.Handler
	chats       []models.Chat
	chatInfo    map[string]models.Chat
	history     map[string][]models.Message
	historyGate chan struct{}
	chatGate    chan struct{}
	chatLookups int
	sendErr     error
	noEcho      bool
	logoutErr   error
	sent        []Sent
	initialized int
	loggedOut   bool
	destroyed   bool
	now         int64
}

// NewProvider creates an idle fake
func NewProvider(deviceID string) *Provider {
	return &Provider{
		DeviceID: deviceID,
		handlers: make(map[whatsapp.EventKind][]whatsapp.Handler),
		chatInfo: make(map[string]models.Chat),
		history:  make(map[string][]models.Message),
		now:      1_700_000_000_000,
	}
}

// SetChats sets the result of ListChats
func (p *Provider) SetChats(chats ...models.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = chats
	for _, c := range chats {
		p.chatInfo[c.ID] = c
	}
}

// SetChatInfo sets the metadata returned by GetChat for one chat
func (p *Provider) SetChatInfo(chat models.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatInfo[chat.ID] = chat
}

// SetHistory sets the result of FetchHistory for chatID
func (p *Provider) SetHistory(chatID string, msgs ...models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[chatID] = msgs
}

// GateHistory makes FetchHistory block until the returned func is called
func (p *Provider) GateHistory() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.historyGate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// GateChat makes GetChat block until the returned func is called
func (p *Provider) GateChat() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.chatGate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// ChatLookups returns how many times GetChat was called
func (p *Provider) ChatLookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatLookups
}

// FailSend makes Send return err
func (p *Provider) FailSend(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// NoEcho stops Send from emitting message-sent events, like whatsmeow
func (p *Provider) NoEcho() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noEcho = true
}

// FailLogout makes Logout return err
func (p *Provider) FailLogout(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutErr = err
}

// Emit delivers ev to the registered handlers synchronously
func (p *Provider) Emit(ev whatsapp.Event) {
	p.mu.Lock()
	handlers := append([]whatsapp.Handler(nil), p.handlers[ev.Kind]...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Pair emits qr, authenticated and ready in order
func (p *Provider) Pair(qr string) {
	p.Emit(whatsapp.Event{Kind: whatsapp.EventQR, QR: qr})
	p.Emit(whatsapp.Event{Kind: whatsapp.EventAuthenticated})
	p.Emit(whatsapp.Event{Kind: whatsapp.EventReady})
}

// Receive emits an inbound message
func (p *Provider) Receive(chatID, sender, body string, ts int64) {
	p.Emit(whatsapp.Event{
		Kind:    whatsapp.EventMessage,
		ChatID:  chatID,
		Message: models.Message{Sender: sender, Body: body, Timestamp: ts, Direction: models.Inbound},
	})
}

// Disconnect emits a disconnected event
func (p *Provider) Disconnect(reason string) {
	p.Emit(whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: reason})
}

// On implements whatsapp.Provider
func (p *Provider) On(kind whatsapp.EventKind, h whatsapp.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = append(p.handlers[kind], h)
}

// Initialize implements whatsapp.Provider
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized++
	return nil
}

// ListChats implements whatsapp.Provider
func (p *Provider) ListChats(ctx context.Context) ([]models.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Chat(nil), p.chats...), nil
}

// GetChat implements whatsapp.Provider
func (p *Provider) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	p.mu.Lock()
	p.chatLookups++
	gate := p.chatGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Chat{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chatInfo[chatID]
	if !ok {
		return models.Chat{}, errors.New("chat not found")
	}
	return c, nil
}

// FetchHistory implements whatsapp.Provider
func (p *Provider) FetchHistory(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	p.mu.Lock()
	gate := p.historyGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.history[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

// Send implements whatsapp.Provider. Unless NoEcho was called, a successful
// send is also echoed back as a message-sent event carrying the same id.
func (p *Provider) Send(ctx context.Context, chatID, text string) (models.Message, error) {
	p.mu.Lock()
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return models.Message{}, err
	}
	p.sent = append(p.sent, Sent{ChatID: chatID, Text: text})
	p.now++
	msg := models.Message{
		ID:        fmt.Sprintf("sent-%d", len(p.sent)),
		Sender:    models.OutboundSender,
		Body:      text,
		Timestamp: p.now,
		Direction: models.Outbound,
	}
	echo := !p.noEcho
	p.mu.Unlock()

	if echo {
		p.Emit(whatsapp.Event{Kind: whatsapp.EventMessageSent, ChatID: chatID, Message: msg})
	}
	return msg, nil
}

// Logout implements whatsapp.Provider
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logoutErr != nil {
		return p.logoutErr
	}
	p.loggedOut = true
	return nil
}

// Destroy implements whatsapp.Provider
func (p *Provider) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	return nil
}

// SentMessages returns the Send calls so far
func (p *Provider) SentMessages() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// Initialized returns how many times Initialize was called
func (p *Provider) Initialized() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// LoggedOut reports whether Logout succeeded
func (p *Provider) LoggedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedOut
}

// Destroyed reports whether Destroy was called
func (p *Provider) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Factory hands out fake providers and remembers them per device
type Factory struct {
	mu        sync.Mutex
	providers map[string][]*Provider
	err       error
	// Configure, when set, is applied to each new provider before it is returned
	Configure func(*Provider)
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{providers: make(map[string][]*Provider)}
}

// Fail makes New return err
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// New implements whatsapp.Factory
func (f *Factory) New(deviceID string) (whatsapp.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := NewProvider(deviceID)
	if f.Configure != nil {
		f.Configure(p)
	}
	f.providers[deviceID] = append(f.providers[deviceID], p)
	return p, nil
}

// Count returns how many providers were created for deviceID
func (f *Factory) Count(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.providers[deviceID])
}

// Latest returns the newest provider for deviceID, or nil
func (f *Factory) Latest(deviceID string) *Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.providers[deviceID]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// Nth returns the i-th provider created for deviceID
func (f *Factory) Nth(deviceID string, i int) *Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers[deviceID][i]
}
