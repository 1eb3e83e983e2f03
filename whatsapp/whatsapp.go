package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/models"
)

// historyCacheSize bounds the messages kept per chat from history sync
const historyCacheSize = 200

// Options configures whatsmeow-backed providers
type Options struct {
	StoreDir   string
	QRTerminal bool
	Logger     *zap.Logger
}

// Whatsapp is a Provider backed by a whatsmeow client. One instance serves one
// device for one session generation.
type Whatsapp struct {
	deviceID string
	client   *whatsmeow.Client
	opts     Options
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	history  map[string][]models.Message
	cancelQR context.CancelFunc
	stopped  bool
}

// NewFactory returns a Factory building whatsmeow providers. Each device gets
// its own sqlite credential database under opts.StoreDir, opened once and
// reused across re-initializations.
func NewFactory(opts Options) Factory {
	var (
		mu         sync.Mutex
		containers = make(map[string]*sqlstore.Container)
	)

	return func(deviceID string) (Provider, error) {
		mu.Lock()
		container, ok := containers[deviceID]
		if !ok {
			var err error
			container, err = openContainer(opts, deviceID)
			if err != nil {
				mu.Unlock()
				return nil, err
			}
			containers[deviceID] = container
		}
		mu.Unlock()

		return NewWhatsapp(container, deviceID, opts)
	}
}

func openContainer(opts Options, deviceID string) (*sqlstore.Container, error) {
	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(opts.StoreDir, deviceID+".db"))
	container, err := sqlstore.New("sqlite3", dsn, logging.Whatsmeow(opts.Logger, "Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp database: %w", err)
	}
	return container, nil
}

// NewWhatsapp creates a provider for deviceID from its credential container
func NewWhatsapp(container *sqlstore.Container, deviceID string, opts Options) (*Whatsapp, error) {
	deviceStore, err := container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	logger := logging.OrNop(opts.Logger).With(zap.String("device_id", deviceID))
	client := whatsmeow.NewClient(deviceStore, logging.Whatsmeow(logger, "Client"))

	w := &Whatsapp{
		deviceID: deviceID,
		client:   client,
		opts:     opts,
		logger:   logger,
		handlers: make(map[EventKind][]Handler),
		history:  make(map[string][]models.Message),
	}
	client.AddEventHandler(w.handleEvent)

	return w, nil
}

// On registers a handler for kind
func (w *Whatsapp) On(kind EventKind, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = append(w.handlers[kind], h)
}

func (w *Whatsapp) emit(ev Event) {
	w.mu.RLock()
	handlers := append([]Handler(nil), w.handlers[ev.Kind]...)
	w.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Initialize connects the client. Unpaired devices stream QR codes until
// pairing succeeds or the QR channel times out.
func (w *Whatsapp) Initialize(ctx context.Context) error {
	if w.client.Store.ID != nil {
		w.emit(Event{Kind: EventAuthenticated})
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelQR = cancel
	w.mu.Unlock()

	qrChan, err := w.client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		cancel()
		return fmt.Errorf("failed to connect to WhatsApp: %w", err)
	}

	go w.watchQR(qrChan)

	return nil
}

// watchQR forwards QR codes until pairing ends. Every way the channel can end
// other than success or Destroy is reported as a disconnect, since whatsmeow
// drops the connection with it.
func (w *Whatsapp) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch {
		case evt.Event == whatsmeow.QRChannelEventCode:
			if w.opts.QRTerminal {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			}
			w.emit(Event{Kind: EventQR, QR: evt.Code})
		case evt.Event == whatsmeow.QRChannelSuccess.Event:
			w.emit(Event{Kind: EventAuthenticated})
			return
		case evt.Event == whatsmeow.QRChannelTimeout.Event:
			w.emit(Event{Kind: EventDisconnected, Reason: "qr timeout"})
			return
		case evt.Event == whatsmeow.QRChannelEventError:
			reason := "pairing failed"
			if evt.Error != nil {
				reason = evt.Error.Error()
			}
			w.emit(Event{Kind: EventDisconnected, Reason: reason})
			return
		case strings.HasPrefix(evt.Event, "err-"):
			w.emit(Event{Kind: EventDisconnected, Reason: evt.Event})
			return
		default:
			w.logger.Warn("whatsapp: unexpected QR event", zap.String("event", evt.Event))
		}
	}

	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if !stopped {
		w.emit(Event{Kind: EventDisconnected, Reason: "qr channel closed"})
	}
}

func (w *Whatsapp) stopQR() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.cancelQR != nil {
		w.cancelQR()
		w.cancelQR = nil
	}
}

func (w *Whatsapp) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		w.logger.Info("whatsapp: connected")
		w.emit(Event{Kind: EventReady})
	case *events.Message:
		chatID, msg, ok := convertMessage(v)
		if !ok {
			return
		}
		kind := EventMessage
		if msg.Direction == models.Outbound {
			kind = EventMessageSent
		}
		w.emit(Event{Kind: kind, ChatID: chatID, Message: msg})
	case *events.HistorySync:
		w.storeHistory(v)
	case *events.LoggedOut:
		w.logger.Info("whatsapp: device logged out")
		w.emit(Event{Kind: EventDisconnected, Reason: "logged out"})
	case *events.StreamReplaced:
		w.emit(Event{Kind: EventDisconnected, Reason: "stream replaced"})
	case *events.Disconnected:
		// whatsmeow reconnects on its own
		w.logger.Debug("whatsapp: socket disconnected")
	}
}

func messageText(m *waProto.Message) string {
	if body := m.GetConversation(); body != "" {
		return body
	}
	return m.GetExtendedTextMessage().GetText()
}

func convertMessage(evt *events.Message) (string, models.Message, bool) {
	body := messageText(evt.Message)
	if body == "" {
		return "", models.Message{}, false
	}

	msg := models.Message{
		ID:        evt.Info.ID,
		Sender:    fromJID(evt.Info.Sender),
		Body:      body,
		Timestamp: evt.Info.Timestamp.UnixMilli(),
		Direction: models.Inbound,
	}
	if evt.Info.IsFromMe {
		msg.Sender = models.OutboundSender
		msg.Direction = models.Outbound
	}
	return fromJID(evt.Info.Chat), msg, true
}

func (w *Whatsapp) storeHistory(hs *events.HistorySync) {
	for _, conv := range hs.Data.GetConversations() {
		jid, err := types.ParseJID(conv.GetId())
		if err != nil {
			continue
		}
		chatID := fromJID(jid)

		msgs := make([]models.Message, 0, len(conv.GetMessages()))
		for _, hm := range conv.GetMessages() {
			wm := hm.GetMessage()
			key := wm.GetKey()
			msg, ok := historyRecord(chatID, key.GetId(), key.GetParticipant(), key.GetFromMe(),
				messageText(wm.GetMessage()), wm.GetMessageTimestamp())
			if ok {
				msgs = append(msgs, msg)
			}
		}
		w.cacheHistory(chatID, msgs)
	}
}

// historyRecord converts one history sync entry. Timestamps arrive in seconds.
func historyRecord(chatID, id, participant string, fromMe bool, body string, seconds uint64) (models.Message, bool) {
	if body == "" {
		return models.Message{}, false
	}

	msg := models.Message{
		ID:        id,
		Sender:    chatID,
		Body:      body,
		Timestamp: int64(seconds) * 1000,
		Direction: models.Inbound,
	}
	if participant != "" {
		msg.Sender = NormalizeChatID(participant)
	}
	if fromMe {
		msg.Sender = models.OutboundSender
		msg.Direction = models.Outbound
	}
	return msg, true
}

// cacheHistory appends msgs to the chat cache, keeping the newest
// historyCacheSize entries
func (w *Whatsapp) cacheHistory(chatID string, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cached := append(w.history[chatID], msgs...)
	if n := len(cached); n > historyCacheSize {
		cached = cached[n-historyCacheSize:]
	}
	w.history[chatID] = cached
}

// ListChats returns the joined groups and saved contacts of the device
func (w *Whatsapp) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat

	groups, err := w.client.GetJoinedGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to get joined groups: %w", err)
	}
	for _, g := range groups {
		name := g.Name
		if name == "" {
			name = g.JID.User
		}
		chats = append(chats, models.Chat{ID: fromJID(g.JID), Name: name, IsGroup: true})
	}

	contacts, err := w.client.Store.Contacts.GetAllContacts()
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	for jid, info := range contacts {
		chats = append(chats, models.Chat{ID: fromJID(jid), Name: contactName(jid, info)})
	}

	return chats, nil
}

// GetChat resolves metadata for one chat
func (w *Whatsapp) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	jid := toJID(chatID)

	if jid.Server == types.GroupServer {
		info, err := w.client.GetGroupInfo(jid)
		if err != nil {
			return models.Chat{}, fmt.Errorf("failed to get group info: %w", err)
		}
		return models.Chat{ID: fromJID(jid), Name: info.Name, IsGroup: true}, nil
	}

	info, err := w.client.Store.Contacts.GetContact(jid)
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to get contact: %w", err)
	}
	return models.Chat{ID: fromJID(jid), Name: contactName(jid, info)}, nil
}

func contactName(jid types.JID, info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.PushName != "":
		return info.PushName
	case info.FirstName != "":
		return info.FirstName
	default:
		return jid.User
	}
}

// FetchHistory returns up to limit messages received for chatID through
// history sync. Nothing is requested from the server.
func (w *Whatsapp) FetchHistory(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cached := w.history[NormalizeChatID(chatID)]
	if limit > 0 && len(cached) > limit {
		cached = cached[len(cached)-limit:]
	}
	return append([]models.Message(nil), cached...), nil
}

// Send sends a text message to chatID. whatsmeow does not dispatch messages
// sent by this client, so the returned record is the only trace of it.
func (w *Whatsapp) Send(ctx context.Context, chatID, text string) (models.Message, error) {
	if !w.client.IsConnected() {
		return models.Message{}, errors.New("client is not connected")
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}

	resp, err := w.client.SendMessage(ctx, toJID(chatID), msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	return sentRecord(resp, text), nil
}

func sentRecord(resp whatsmeow.SendResponse, text string) models.Message {
	return models.Message{
		ID:        resp.ID,
		Sender:    models.OutboundSender,
		Body:      text,
		Timestamp: resp.Timestamp.UnixMilli(),
		Direction: models.Outbound,
	}
}

// Logout unlinks the device from the account
func (w *Whatsapp) Logout(ctx context.Context) error {
	if err := w.client.Logout(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// Destroy stops QR streaming and closes the connection
func (w *Whatsapp) Destroy() error {
	w.stopQR()
	w.client.RemoveEventHandlers()
	w.client.Disconnect()
	return nil
}
