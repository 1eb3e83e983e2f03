package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/events"
	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/models"
	"github.com/mbenaiss/whatsapp-gateway/whatsapp"
)

// deviceIDPattern keeps device ids safe to use as file names
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service is the gateway surface used by the API
type Service interface {
	DefaultDevice() string
	CreateDevice(deviceID string) (string, error)
	RemoveDevice(deviceID string) error
	Devices() []models.Status
	Status(deviceID string) (models.Status, error)
	GetQR(deviceID string) (qr string, ready bool, err error)
	GetChats(deviceID string) ([]models.Chat, error)
	GetMessages(deviceID, chatID string) ([]models.Message, error)
	SendMessage(ctx context.Context, deviceID, chatID, message string) (string, error)
	Disconnect(ctx context.Context, deviceID string) (bool, error)
	Restart(deviceID string) error
	Subscribe(ctx context.Context, topic string) (<-chan events.Event, error)
}

// ManagerConfig configures a Manager
type ManagerConfig struct {
	DefaultDeviceID string
	MultiDevice     bool
	Session         Options
}

// Manager is the registry of device sessions. It owns every Session and is
// the only place sessions are created or destroyed.
type Manager struct {
	cfg     ManagerConfig
	factory whatsapp.Factory
	bus     *events.Bus
	hooks   EventBus.Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

var _ Service = (*Manager)(nil)

// NewManager creates the registry and starts the default device session.
// hooks may be nil.
func NewManager(cfg ManagerConfig, factory whatsapp.Factory, bus *events.Bus, hooks EventBus.Bus, logger *zap.Logger) (*Manager, error) {
	if !deviceIDPattern.MatchString(cfg.DefaultDeviceID) {
		return nil, fmt.Errorf("%w: invalid default device id %q", ErrInvalidRequest, cfg.DefaultDeviceID)
	}

	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		bus:      bus,
		hooks:    hooks,
		logger:   logging.OrNop(logger),
		sessions: make(map[string]*Session),
	}

	m.sessions[cfg.DefaultDeviceID] = m.newSession(cfg.DefaultDeviceID)

	return m, nil
}

func (m *Manager) newSession(deviceID string) *Session {
	m.logger.Info("manager: starting device session", zap.String("device_id", deviceID))
	return NewSession(deviceID, m.factory, m.bus, m.hooks, m.cfg.Session, m.logger)
}

// DefaultDevice returns the id used by the single-device routes
func (m *Manager) DefaultDevice() string {
	return m.cfg.DefaultDeviceID
}

// CreateDevice registers and starts a new device session. An empty id gets a
// generated one.
func (m *Manager) CreateDevice(deviceID string) (string, error) {
	if !m.cfg.MultiDevice {
		return "", ErrMultiDeviceDisabled
	}
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return "", fmt.Errorf("%w: device id must match %s", ErrInvalidRequest, deviceIDPattern)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrSessionClosed
	}
	if _, ok := m.sessions[deviceID]; ok {
		return "", ErrDeviceExists
	}
	m.sessions[deviceID] = m.newSession(deviceID)

	return deviceID, nil
}

// RemoveDevice stops a device session and forgets it. The default device
// cannot be removed.
func (m *Manager) RemoveDevice(deviceID string) error {
	if deviceID == m.cfg.DefaultDeviceID {
		return fmt.Errorf("%w: the default device cannot be removed", ErrInvalidRequest)
	}

	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}

	s.Close()
	m.logger.Info("manager: device removed", zap.String("device_id", deviceID))
	return nil
}

// Session returns the session for deviceID
func (m *Manager) Session(deviceID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return s, nil
}

// Devices returns the status of every device ordered by id
func (m *Manager) Devices() []models.Status {
	m.mu.RLock()
	statuses := make([]models.Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		statuses = append(statuses, s.Status())
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeviceID < statuses[j].DeviceID
	})
	return statuses
}

// Status returns the status of one device
func (m *Manager) Status(deviceID string) (models.Status, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return models.Status{}, err
	}
	return s.Status(), nil
}

// GetQR returns the pending QR code of a device, or ready=true when it is
// already authenticated
func (m *Manager) GetQR(deviceID string) (string, bool, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return "", false, err
	}
	qr, ready := s.QR()
	return qr, ready, nil
}

// GetChats lists the chats of a READY device
func (m *Manager) GetChats(deviceID string) ([]models.Chat, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return nil, err
	}
	return s.Chats()
}

// GetMessages returns the sorted history of one chat
func (m *Manager) GetMessages(deviceID, chatID string) ([]models.Message, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return nil, err
	}
	return s.Messages(chatID), nil
}

// SendMessage sends a text message from a device
func (m *Manager) SendMessage(ctx context.Context, deviceID, chatID, message string) (string, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, chatID, message)
}

// Disconnect logs a device out and re-initializes it
func (m *Manager) Disconnect(ctx context.Context, deviceID string) (bool, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return false, err
	}
	return s.Disconnect(ctx)
}

// Restart re-initializes a device, reviving it if it was parked
func (m *Manager) Restart(deviceID string) error {
	s, err := m.Session(deviceID)
	if err != nil {
		return err
	}
	return s.Restart()
}

// Subscribe observes the events of one device, or of every device when topic
// is events.AllTopics
func (m *Manager) Subscribe(ctx context.Context, topic string) (<-chan events.Event, error) {
	if topic != events.AllTopics {
		if _, err := m.Session(topic); err != nil {
			return nil, err
		}
	}
	ch, _ := m.bus.Subscribe(ctx, topic)
	return ch, nil
}

// Shutdown closes every session
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()

	m.logger.Info("manager: all sessions closed", zap.Int("count", len(sessions)))
}
