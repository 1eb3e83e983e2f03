package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/events"
	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/models"
	"github.com/mbenaiss/whatsapp-gateway/store"
	"github.com/mbenaiss/whatsapp-gateway/whatsapp"
)

// State is the lifecycle state of a device session
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateQRPending     State = "QR_PENDING"
	StateAuthenticated State = "AUTHENTICATED"
	StateReady         State = "READY"
	StateDisconnected  State = "DISCONNECTED"
)

// inboxSize buffers provider events waiting for the session loop
const inboxSize = 256

// syncTimeout bounds chat listing and metadata lookups
const syncTimeout = 30 * time.Second

// Options tunes session behavior
type Options struct {
	SendTimeout       time.Duration
	BackfillDelay     time.Duration
	BackfillLimit     int
	RestartBackoffMin time.Duration
	RestartBackoffMax time.Duration
	// MaxRestarts caps consecutive automatic restarts. Zero means unlimited.
	MaxRestarts int
}

// backoff returns the delay before the n-th consecutive restart
func (o Options) backoff(n int) time.Duration {
	if n <= 0 || o.RestartBackoffMin <= 0 {
		return 0
	}

	d := o.RestartBackoffMin
	for i := 1; i < n; i++ {
		d *= 2
		if o.RestartBackoffMax > 0 && d >= o.RestartBackoffMax {
			return o.RestartBackoffMax
		}
	}
	if o.RestartBackoffMax > 0 && d > o.RestartBackoffMax {
		return o.RestartBackoffMax
	}
	return d
}

// commands handled by the session loop
type (
	providerEvent struct {
		gen uint64
		ev  whatsapp.Event
	}
	reinit struct {
		gen uint64
	}
	chatsListed struct {
		gen      uint64
		provider whatsapp.Provider
		chats    []models.Chat
		err      error
	}
	chatResolved struct {
		gen    uint64
		chatID string
		chat   models.Chat
		err    error
	}
	backfillDone struct {
		gen    uint64
		chatID string
		msgs   []models.Message
	}
	beginDisconnect struct {
		reply chan disconnectTicket
	}
	restartRequest struct {
		reply chan struct{}
	}
	stopRequest struct {
		reply chan struct{}
	}
)

type disconnectTicket struct {
	provider whatsapp.Provider
	gen      uint64
	ok       bool
}

// Session drives one device through its lifecycle. Provider events and
// lifecycle transitions are applied by a single loop goroutine; slow provider
// I/O runs beside it and reports back tagged with the generation it was
// started under, so results from a torn down provider are discarded.
type Session struct {
	id      string
	factory whatsapp.Factory
	bus     *events.Bus
	hooks   EventBus.Bus
	store   *store.Store
	opts    Options
	logger  *zap.Logger

	inbox chan any
	done  chan struct{}

	mu         sync.RWMutex
	state      State
	qr         string
	provider   whatsapp.Provider
	generation uint64
	restarts   int
	parked     bool

	// owned by the loop
	resolving map[string]bool
}

// NewSession creates a session for deviceID and starts initializing it.
// hooks may be nil.
func NewSession(deviceID string, factory whatsapp.Factory, bus *events.Bus, hooks EventBus.Bus, opts Options, logger *zap.Logger) *Session {
	s := &Session{
		id:        deviceID,
		factory:   factory,
		bus:       bus,
		hooks:     hooks,
		store:     store.New(),
		opts:      opts,
		logger:    logging.OrNop(logger).Named("session").With(zap.String("device_id", deviceID)),
		inbox:     make(chan any, inboxSize),
		done:      make(chan struct{}),
		state:     StateUninitialized,
		resolving: make(map[string]bool),
	}

	go s.run()
	s.post(reinit{gen: 0})

	return s
}

// ID returns the device id
func (s *Session) ID() string {
	return s.id
}

func (s *Session) run() {
	for cmd := range s.inbox {
		if stop, ok := cmd.(stopRequest); ok {
			s.shutdown()
			close(s.done)
			close(stop.reply)
			return
		}
		s.handle(cmd)
	}
}

// post queues cmd for the loop. It returns false once the session is closed.
func (s *Session) post(cmd any) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) handle(cmd any) {
	switch c := cmd.(type) {
	case providerEvent:
		if c.gen != s.generation {
			s.logger.Debug("session: ignoring event from stale provider",
				zap.String("kind", string(c.ev.Kind)),
				zap.Uint64("generation", c.gen))
			return
		}
		s.handleProviderEvent(c.ev)
	case reinit:
		s.reinitialize(c.gen)
	case chatsListed:
		s.handleChatsListed(c)
	case chatResolved:
		if c.gen != s.generation {
			return
		}
		delete(s.resolving, c.chatID)
		if c.err != nil {
			s.logger.Debug("session: chat metadata lookup failed",
				zap.String("chat_id", c.chatID), zap.Error(c.err))
			return
		}
		c.chat.ID = c.chatID
		s.store.StoreChat(c.chat)
	case backfillDone:
		if c.gen != s.generation {
			s.logger.Debug("session: discarding stale backfill", zap.String("chat_id", c.chatID))
			return
		}
		if n := s.store.MergeHistory(c.chatID, c.msgs); n > 0 {
			s.logger.Debug("session: backfilled chat", zap.String("chat_id", c.chatID), zap.Int("added", n))
		}
	case beginDisconnect:
		c.reply <- s.beginDisconnect()
	case restartRequest:
		s.restart()
		close(c.reply)
	default:
		s.logger.Warn("session: unknown command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
}

func (s *Session) handleProviderEvent(ev whatsapp.Event) {
	switch ev.Kind {
	case whatsapp.EventQR:
		s.mu.Lock()
		s.state = StateQRPending
		s.qr = ev.QR
		s.mu.Unlock()

		s.logger.Info("session: QR code received")
		s.publish(events.KindQR, events.QRPayload{Code: ev.QR})

	case whatsapp.EventAuthenticated:
		s.mu.Lock()
		s.state = StateAuthenticated
		s.qr = ""
		s.mu.Unlock()

		s.logger.Info("session: authenticated")

	case whatsapp.EventReady:
		s.mu.Lock()
		s.state = StateReady
		s.qr = ""
		s.restarts = 0
		p := s.provider
		gen := s.generation
		s.mu.Unlock()

		s.logger.Info("session: ready")
		s.publish(events.KindReady, events.ReadyPayload{Authenticated: true, Chats: s.store.GetChats()})

		go s.syncChats(p, gen)

	case whatsapp.EventMessage, whatsapp.EventMessageSent:
		s.handleMessage(ev)

	case whatsapp.EventDisconnected:
		s.logger.Warn("session: provider disconnected", zap.String("reason", ev.Reason))
		s.teardown(ev.Reason)
		s.scheduleRestart()
	}
}

func (s *Session) handleMessage(ev whatsapp.Event) {
	if s.state != StateReady {
		s.logger.Debug("session: dropping message outside READY", zap.String("state", string(s.state)))
		return
	}

	if strings.TrimSpace(ev.ChatID) == "" {
		return
	}
	chatID := whatsapp.NormalizeChatID(ev.ChatID)

	if !s.store.RecordMessage(chatID, ev.Message) {
		return
	}

	s.publish(events.KindNewMessage, events.NewMessagePayload{ChatID: chatID, Message: ev.Message})
	if s.hooks != nil {
		s.hooks.Publish(events.TopicMessageRecorded, events.MessageRecorded{
			DeviceID: s.id,
			ChatID:   chatID,
			Message:  ev.Message,
		})
	}

	if s.store.NeedsMetadata(chatID) && !s.resolving[chatID] {
		s.resolving[chatID] = true
		go s.resolveChat(s.provider, s.generation, chatID)
	}
}

func (s *Session) handleChatsListed(c chatsListed) {
	if c.gen != s.generation {
		return
	}
	if c.err != nil {
		s.logger.Warn("session: failed to list chats", zap.Error(c.err))
		return
	}

	for _, chat := range c.chats {
		chat.ID = whatsapp.NormalizeChatID(chat.ID)
		s.store.StoreChat(chat)
	}

	snapshot := s.store.GetChats()
	s.logger.Info("session: chats synced", zap.Int("count", len(snapshot)))
	s.publish(events.KindChats, events.ChatsPayload{Chats: snapshot})

	if s.opts.BackfillLimit <= 0 || len(snapshot) == 0 {
		return
	}

	ids := make([]string, 0, len(snapshot))
	for _, chat := range snapshot {
		ids = append(ids, chat.ID)
	}
	time.AfterFunc(s.opts.BackfillDelay, func() {
		s.backfill(c.provider, c.gen, ids)
	})
}

func (s *Session) syncChats(p whatsapp.Provider, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	chats, err := p.ListChats(ctx)
	s.post(chatsListed{gen: gen, provider: p, chats: chats, err: err})
}

func (s *Session) resolveChat(p whatsapp.Provider, gen uint64, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	chat, err := p.GetChat(ctx, chatID)
	s.post(chatResolved{gen: gen, chatID: chatID, chat: chat, err: err})
}

// backfill fetches recent history chat by chat. It stops early once the
// generation it was started under is gone.
func (s *Session) backfill(p whatsapp.Provider, gen uint64, chatIDs []string) {
	for _, chatID := range chatIDs {
		if s.currentGeneration() != gen {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		msgs, err := p.FetchHistory(ctx, chatID, s.opts.BackfillLimit)
		cancel()
		if err != nil {
			s.logger.Debug("session: backfill failed", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		if !s.post(backfillDone{gen: gen, chatID: chatID, msgs: msgs}) {
			return
		}
	}
}

// reinitialize brings up a fresh provider, unless a newer transition already
// superseded the request.
func (s *Session) reinitialize(gen uint64) {
	if gen != s.generation {
		return
	}

	p, err := s.factory(s.id)
	if err != nil {
		s.logger.Error("session: failed to create provider", zap.Error(err))
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.scheduleRestart()
		return
	}

	s.mu.Lock()
	s.generation++
	g := s.generation
	s.provider = p
	s.state = StateUninitialized
	s.qr = ""
	s.mu.Unlock()

	s.resolving = make(map[string]bool)
	for _, kind := range []whatsapp.EventKind{
		whatsapp.EventQR,
		whatsapp.EventAuthenticated,
		whatsapp.EventReady,
		whatsapp.EventMessage,
		whatsapp.EventMessageSent,
		whatsapp.EventDisconnected,
	} {
		p.On(kind, func(ev whatsapp.Event) {
			s.post(providerEvent{gen: g, ev: ev})
		})
	}

	s.logger.Info("session: initializing provider", zap.Uint64("generation", g))

	go func() {
		if err := p.Initialize(context.Background()); err != nil {
			s.post(providerEvent{gen: g, ev: whatsapp.Event{
				Kind:   whatsapp.EventDisconnected,
				Reason: "initialize: " + err.Error(),
			}})
		}
	}()
}

// teardown detaches the current provider and moves to DISCONNECTED. The
// generation is bumped so anything the old provider still reports is ignored.
func (s *Session) teardown(reason string) whatsapp.Provider {
	s.mu.Lock()
	old := s.provider
	s.provider = nil
	s.generation++
	s.state = StateDisconnected
	s.qr = ""
	s.mu.Unlock()

	s.publish(events.KindDisconnected, events.DisconnectedPayload{Reason: reason})

	if old != nil {
		go s.destroy(old)
	}
	return old
}

func (s *Session) destroy(p whatsapp.Provider) {
	if err := p.Destroy(); err != nil {
		s.logger.Warn("session: failed to destroy provider", zap.Error(err))
	}
}

// scheduleRestart queues a re-initialization with exponential backoff, or
// parks the session once the restart ceiling is reached.
func (s *Session) scheduleRestart() {
	s.mu.Lock()
	s.restarts++
	n := s.restarts
	if s.opts.MaxRestarts > 0 && n > s.opts.MaxRestarts {
		s.parked = true
		s.mu.Unlock()
		s.logger.Error("session: restart ceiling reached, session parked until restarted",
			zap.Int("max_restarts", s.opts.MaxRestarts))
		return
	}
	gen := s.generation
	s.mu.Unlock()

	delay := s.opts.backoff(n)
	s.logger.Info("session: scheduling restart", zap.Int("attempt", n), zap.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		s.post(reinit{gen: gen})
	})
}

func (s *Session) beginDisconnect() disconnectTicket {
	if s.state != StateReady {
		return disconnectTicket{}
	}

	s.mu.Lock()
	old := s.provider
	s.provider = nil
	s.generation++
	s.state = StateDisconnected
	s.qr = ""
	s.restarts = 0
	gen := s.generation
	s.mu.Unlock()

	s.publish(events.KindDisconnected, events.DisconnectedPayload{Reason: "logout"})

	return disconnectTicket{provider: old, gen: gen, ok: old != nil}
}

func (s *Session) restart() {
	s.teardown("restart")

	s.mu.Lock()
	s.restarts = 0
	s.parked = false
	s.mu.Unlock()

	s.reinitialize(s.generation)
}

func (s *Session) shutdown() {
	s.mu.Lock()
	old := s.provider
	s.provider = nil
	s.generation++
	s.state = StateDisconnected
	s.qr = ""
	s.mu.Unlock()

	if old != nil {
		s.destroy(old)
	}
}

func (s *Session) publish(kind events.Kind, data any) {
	s.bus.Publish(events.Event{DeviceID: s.id, Kind: kind, Data: data})
}

func (s *Session) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// QR returns the pending QR code, or ready=true once the session is READY
func (s *Session) QR() (code string, ready bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr, s.state == StateReady
}

// Status summarizes the session
func (s *Session) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Status{
		DeviceID: s.id,
		State:    string(s.state),
		Ready:    s.state == StateReady,
		HasQR:    s.qr != "",
		Restarts: s.restarts,
		Parked:   s.parked,
	}
}

// Chats lists the known conversations. It fails with ErrNotReady unless the
// session is READY.
func (s *Session) Chats() ([]models.Chat, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}
	return s.store.GetChats(), nil
}

// Messages returns the history of chatID sorted by timestamp. Unknown chats
// yield an empty slice.
func (s *Session) Messages(chatID string) []models.Message {
	return s.store.GetMessages(whatsapp.NormalizeChatID(chatID))
}

// Send delivers text to chatID and returns the normalized chat id. The
// outbound record returned by the provider is recorded like any other message.
func (s *Session) Send(ctx context.Context, chatID, text string) (string, error) {
	if strings.TrimSpace(chatID) == "" || text == "" {
		return "", fmt.Errorf("%w: chatId and message are required", ErrInvalidRequest)
	}

	s.mu.RLock()
	p, state, gen := s.provider, s.state, s.generation
	s.mu.RUnlock()
	if state != StateReady || p == nil {
		return "", ErrNotReady
	}

	target := whatsapp.NormalizeChatID(chatID)

	if s.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
		defer cancel()
	}

	msg, err := p.Send(ctx, target, text)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	s.post(providerEvent{gen: gen, ev: whatsapp.Event{
		Kind:    whatsapp.EventMessageSent,
		ChatID:  target,
		Message: msg,
	}})
	return target, nil
}

// Disconnect logs out a READY session, tears it down and re-initializes it.
// It reports false when the session was not READY. A logout error is returned
// after teardown has completed.
func (s *Session) Disconnect(ctx context.Context) (bool, error) {
	reply := make(chan disconnectTicket, 1)
	if !s.post(beginDisconnect{reply: reply}) {
		return false, ErrSessionClosed
	}

	var t disconnectTicket
	select {
	case t = <-reply:
	case <-s.done:
		return false, ErrSessionClosed
	}
	if !t.ok {
		return false, nil
	}

	logoutCtx := ctx
	if s.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		logoutCtx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
		defer cancel()
	}

	logoutErr := t.provider.Logout(logoutCtx)
	s.destroy(t.provider)
	s.post(reinit{gen: t.gen})

	if logoutErr != nil {
		s.logger.Error("session: logout failed", zap.Error(logoutErr))
		return true, fmt.Errorf("failed to logout: %w", logoutErr)
	}

	s.logger.Info("session: logged out")
	return true, nil
}

// Restart tears down the current provider and starts a fresh one, clearing
// the restart counter and any parked state.
func (s *Session) Restart() error {
	reply := make(chan struct{})
	if !s.post(restartRequest{reply: reply}) {
		return ErrSessionClosed
	}

	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close stops the session loop and destroys the provider
func (s *Session) Close() {
	reply := make(chan struct{})
	if !s.post(stopRequest{reply: reply}) {
		return
	}

	select {
	case <-reply:
	case <-s.done:
	}
}
