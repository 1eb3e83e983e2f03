package webhook

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/go-resty/resty/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/events"
	"github.com/mbenaiss/whatsapp-gateway/logging"
)

// RelayConfig is the process-wide live relay target
type RelayConfig struct {
	URL     string
	Method  string
	Timeout time.Duration
	Workers int
}

// Payload is the body sent to the live webhook for non-GET methods. GET sends
// phone, message and timestamp as query parameters instead.
type Payload struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
	FromMe    bool   `json:"fromMe"`
}

// Relay forwards every recorded message to the configured webhook. Calls run
// on a bounded worker pool and never block the publisher; when every worker is
// busy the message is dropped. Failures are only logged.
type Relay struct {
	cfg    RelayConfig
	client *resty.Client
	pool   *ants.Pool
	logger *zap.Logger
	hooks  EventBus.Bus
}

// NewRelay creates a relay. It does nothing until attached.
func NewRelay(cfg RelayConfig, logger *zap.Logger) (*Relay, error) {
	if cfg.Method == "" {
		cfg.Method = "GET"
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	logger = logging.OrNop(logger).Named("webhook")

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("webhook: relay worker panicked", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Relay{
		cfg:    cfg,
		client: newClient(cfg.Timeout),
		pool:   pool,
		logger: logger,
	}, nil
}

// Attach subscribes the relay to recorded messages on hooks
func (r *Relay) Attach(hooks EventBus.Bus) error {
	if err := hooks.Subscribe(events.TopicMessageRecorded, r.Relay); err != nil {
		return err
	}
	r.hooks = hooks
	r.logger.Info("webhook: live relay enabled",
		zap.String("url", r.cfg.URL),
		zap.String("method", r.cfg.Method),
		zap.Int("workers", r.cfg.Workers))
	return nil
}

// Relay schedules delivery of m and returns immediately
func (r *Relay) Relay(m events.MessageRecorded) {
	err := r.pool.Submit(func() {
		r.deliver(m)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			r.logger.Warn("webhook: relay saturated, dropping message",
				zap.String("device_id", m.DeviceID),
				zap.String("chat_id", m.ChatID))
			return
		}
		r.logger.Warn("webhook: failed to schedule delivery", zap.Error(err))
	}
}

func (r *Relay) deliver(m events.MessageRecorded) {
	ctx := context.Background()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	req := r.client.R().SetContext(ctx)
	if r.cfg.Method == "GET" {
		req.SetQueryParams(map[string]string{
			"phone":     m.ChatID,
			"message":   m.Message.Body,
			"timestamp": strconv.FormatInt(m.Message.Timestamp, 10),
		})
	} else {
		req.SetBody(Payload{
			Phone:     m.ChatID,
			Message:   m.Message.Body,
			Timestamp: m.Message.Timestamp,
			DeviceID:  m.DeviceID,
			FromMe:    m.Message.FromMe(),
		})
	}

	resp, err := req.Execute(r.cfg.Method, r.cfg.URL)
	if err != nil {
		r.logger.Error("webhook: delivery failed",
			zap.String("device_id", m.DeviceID),
			zap.String("chat_id", m.ChatID),
			zap.Error(err))
		return
	}
	if !resp.IsSuccess() {
		r.logger.Error("webhook: delivery rejected",
			zap.String("device_id", m.DeviceID),
			zap.String("chat_id", m.ChatID),
			zap.Int("status", resp.StatusCode()))
		return
	}

	r.logger.Debug("webhook: delivered",
		zap.String("device_id", m.DeviceID),
		zap.String("chat_id", m.ChatID))
}

// Close detaches the relay and waits up to timeout for in-flight deliveries
func (r *Relay) Close(timeout time.Duration) {
	if r.hooks != nil {
		if err := r.hooks.Unsubscribe(events.TopicMessageRecorded, r.Relay); err != nil {
			r.logger.Debug("webhook: unsubscribe failed", zap.Error(err))
		}
	}
	if err := r.pool.ReleaseTimeout(timeout); err != nil {
		r.logger.Warn("webhook: relay workers still busy at shutdown", zap.Error(err))
	}
}
