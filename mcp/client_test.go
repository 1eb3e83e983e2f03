package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbenaiss/whatsapp-gateway/models"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newGatewayStub(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*httptest.Server, *requestLog) {
	t.Helper()

	seen := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		seen.mu.Unlock()

		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"route not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func reply(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func replyText(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestClientRoutes(t *testing.T) {
	srv, seen := newGatewayStub(t, map[string]func(w http.ResponseWriter){
		"GET /api/chats":             reply(http.StatusOK, `[{"id":"1@c.us","name":"Ann","isGroup":false}]`),
		"GET /api/device/work/chats": reply(http.StatusOK, `[]`),
		"GET /api/device/work/chat/1@c.us": reply(http.StatusOK,
			`[{"sender":"1@c.us","message":"hi","timestamp":10,"fromMe":false},{"sender":"me","message":"yo","timestamp":20,"fromMe":true}]`),
	})

	ctx := context.Background()

	c := NewClient(srv.URL+"/", "", time.Second)
	chats, err := c.Chats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []models.Chat{{ID: "1@c.us", Name: "Ann"}}, chats)

	chats, err = c.Chats(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, chats)

	pinned := NewClient(srv.URL, "work", time.Second)
	msgs, err := pinned.Messages(ctx, "", "1@c.us")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.False(t, msgs[0].FromMe())
	assert.True(t, msgs[1].FromMe())

	reqs := seen.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/api/device/work/chat/1@c.us", reqs[2].path)
}

func TestClientSend(t *testing.T) {
	srv, seen := newGatewayStub(t, map[string]func(w http.ResponseWriter){
		"POST /api/send": reply(http.StatusOK, `{"status":"success","chatId":"123@c.us"}`),
	})

	c := NewClient(srv.URL, "", time.Second)
	chatID, err := c.Send(context.Background(), "", "123", "hello")
	require.NoError(t, err)
	assert.Equal(t, "123@c.us", chatID)

	reqs := seen.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.JSONEq(t, `{"chatId":"123","message":"hello"}`, reqs[0].body)
}

func TestClientErrors(t *testing.T) {
	srv, _ := newGatewayStub(t, map[string]func(w http.ResponseWriter){
		"POST /api/send":       reply(http.StatusServiceUnavailable, `{"error":"client not ready"}`),
		"POST /api/disconnect": replyText(http.StatusInternalServerError, `not json`),
	})

	c := NewClient(srv.URL, "", time.Second)

	_, err := c.Send(context.Background(), "", "123", "hello")
	require.Error(t, err)
	assert.Equal(t, "gateway returned 503: client not ready", err.Error())

	_, err = c.Disconnect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway returned 500")

	_, err = c.Messages(context.Background(), "", "")
	assert.Error(t, err)

	_, err = c.Chats(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route not found")
}

func TestClientStatus(t *testing.T) {
	srv, _ := newGatewayStub(t, map[string]func(w http.ResponseWriter){
		"GET /api/status": reply(http.StatusOK,
			`{"success":true,"data":[{"deviceId":"default","state":"READY","ready":true},{"deviceId":"work","state":"QR_PENDING","hasQr":true}]}`),
		"GET /api/device/work/status": reply(http.StatusOK,
			`{"success":true,"data":{"deviceId":"work","state":"QR_PENDING","hasQr":true}}`),
	})

	c := NewClient(srv.URL, "", time.Second)

	all, err := c.Status(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Ready)

	one, err := c.Status(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, []models.Status{{DeviceID: "work", State: "QR_PENDING", HasQR: true}}, one)
}

func TestClientWebhookRequest(t *testing.T) {
	srv, seen := newGatewayStub(t, map[string]func(w http.ResponseWriter){
		"POST /api/webhook/request": reply(http.StatusOK, `{"status":"success","response":{"name":"Ann"}}`),
	})

	c := NewClient(srv.URL, "work", time.Second)
	resp, err := c.WebhookRequest(context.Background(), map[string]any{"url": "http://example.com", "method": "GET"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Ann"}, resp)

	reqs := seen.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/webhook/request", reqs[0].path)
}
