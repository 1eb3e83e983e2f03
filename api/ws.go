package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Frame is one message on the real-time channel
type Frame struct {
	Event    events.Kind `json:"event"`
	DeviceID string      `json:"deviceId"`
	Data     any         `json:"data"`
}

// handleWebSocket streams bus events. /ws observes every device; the device
// route observes one. The current QR or ready state of the device is sent
// first since the bus does not replay.
func (s *Server) handleWebSocket(c *gin.Context) {
	topic := events.AllTopics
	snapshotDevice := s.service.DefaultDevice()
	if id := c.Param("id"); id != "" {
		topic = id
		snapshotDevice = id
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ch, err := s.service.Subscribe(ctx, topic)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("topic", topic))
	logger.Debug("api: websocket observer connected")

	go s.readPump(conn, cancel)

	if frame, ok := s.snapshot(snapshotDevice); ok {
		if err := writeFrame(conn, frame); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, s.frame(ev)); err != nil {
				logger.Debug("api: websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			logger.Debug("api: websocket observer disconnected")
			return
		}
	}
}

// readPump discards client frames and cancels the observer when the peer goes
// away
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// frame converts a bus event to its wire form. QR codes travel as data URLs.
func (s *Server) frame(ev events.Event) Frame {
	data := ev.Data
	if p, ok := data.(events.QRPayload); ok {
		data = gin.H{"qr": s.qrDataURL(p.Code)}
	}
	return Frame{Event: ev.Kind, DeviceID: ev.DeviceID, Data: data}
}

func (s *Server) snapshot(deviceID string) (Frame, bool) {
	qr, ready, err := s.service.GetQR(deviceID)
	if err != nil {
		return Frame{}, false
	}

	if ready {
		chats, err := s.service.GetChats(deviceID)
		if err != nil {
			chats = nil
		}
		return s.frame(events.Event{
			DeviceID: deviceID,
			Kind:     events.KindReady,
			Data:     events.ReadyPayload{Authenticated: true, Chats: chats},
		}), true
	}
	if qr != "" {
		return s.frame(events.Event{DeviceID: deviceID, Kind: events.KindQR, Data: events.QRPayload{Code: qr}}), true
	}
	return Frame{}, false
}
