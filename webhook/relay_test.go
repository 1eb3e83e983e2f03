package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mbenaiss/whatsapp-gateway/events"
	"github.com/mbenaiss/whatsapp-gateway/models"
)

func recorded(body string, ts int64, dir models.Direction) events.MessageRecorded {
	sender := "5551234567@c.us"
	if dir == models.Outbound {
		sender = models.OutboundSender
	}
	return events.MessageRecorded{
		DeviceID: "dev1",
		ChatID:   "5551234567@c.us",
		Message:  models.Message{Sender: sender, Body: body, Timestamp: ts, Direction: dir},
	}
}

func TestRelayGETQueryParams(t *testing.T) {
	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		queries <- r.URL.Query()
	}))
	defer srv.Close()

	relay, err := NewRelay(RelayConfig{URL: srv.URL, Timeout: time.Second, Workers: 2}, nil)
	require.NoError(t, err)
	defer relay.Close(time.Second)

	hooks := EventBus.New()
	require.NoError(t, relay.Attach(hooks))

	hooks.Publish(events.TopicMessageRecorded, recorded("hola", 1700000000000, models.Inbound))

	select {
	case q := <-queries:
		assert.Equal(t, "5551234567@c.us", q.Get("phone"))
		assert.Equal(t, "hola", q.Get("message"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestRelayPOSTBody(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
	}))
	defer srv.Close()

	relay, err := NewRelay(RelayConfig{URL: srv.URL, Method: "post", Timeout: time.Second, Workers: 1}, nil)
	require.NoError(t, err)
	defer relay.Close(time.Second)

	relay.Relay(recorded("sent", 42, models.Outbound))

	select {
	case b := <-bodies:
		assert.JSONEq(t, `{"phone":"5551234567@c.us","message":"sent","timestamp":42,"deviceId":"dev1","fromMe":true}`, b)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestRelayDoesNotBlockPublisher(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	core, logs := observer.New(zap.WarnLevel)
	relay, err := NewRelay(RelayConfig{URL: srv.URL, Timeout: 5 * time.Second, Workers: 1}, zap.New(core))
	require.NoError(t, err)
	defer relay.Close(100 * time.Millisecond)

	hooks := EventBus.New()
	require.NoError(t, relay.Attach(hooks))

	start := time.Now()
	for i := 0; i < 20; i++ {
		hooks.Publish(events.TopicMessageRecorded, recorded("burst", int64(i), models.Inbound))
	}
	assert.Less(t, time.Since(start), time.Second)

	assert.Positive(t, logs.FilterMessage("webhook: relay saturated, dropping message").Len())
}

func TestRelayLogsFailures(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	core, logs := observer.New(zap.ErrorLevel)
	relay, err := NewRelay(RelayConfig{URL: closed.URL, Timeout: time.Second, Workers: 1}, zap.New(core))
	require.NoError(t, err)
	defer relay.Close(time.Second)

	relay.Relay(recorded("lost", 1, models.Inbound))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("webhook: delivery failed").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer rejected.Close()

	relay2, err := NewRelay(RelayConfig{URL: rejected.URL, Timeout: time.Second, Workers: 1}, zap.New(core))
	require.NoError(t, err)
	defer relay2.Close(time.Second)

	relay2.Relay(recorded("nope", 2, models.Inbound))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("webhook: delivery rejected").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
