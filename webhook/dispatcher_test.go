package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbenaiss/whatsapp-gateway/mapping"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{name: "complete", req: Request{URL: "http://example.com/hook", Method: "GET"}, ok: true},
		{name: "missing url", req: Request{Method: "GET"}},
		{name: "missing method", req: Request{URL: "http://example.com"}},
		{name: "relative url", req: Request{URL: "/hook", Method: "GET"}},
		{name: "other scheme", req: Request{URL: "ftp://example.com", Method: "GET"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDispatcherAppliesMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"a":{"b":5},"name":"n8n"}`)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil)

	got, err := d.Do(context.Background(), Request{
		URL:     srv.URL,
		Method:  "get",
		Mapping: map[string]string{"x": "a.b", "y": "a.c", "who": "name"},
	})
	require.NoError(t, err)

	fields := got.(map[string]any)
	assert.Equal(t, float64(5), fields["x"])
	assert.True(t, mapping.IsMissing(fields["y"]))
	assert.Equal(t, "n8n", fields["who"])
}

func TestDispatcherReturnsRawResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			io.WriteString(w, `{"ok":true}`)
		default:
			io.WriteString(w, "plain text")
		}
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil)

	got, err := d.Do(context.Background(), Request{URL: srv.URL + "/json", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)

	got, err = d.Do(context.Background(), Request{URL: srv.URL + "/text", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)
}

func TestDispatcherSendsBodyAndHeaders(t *testing.T) {
	type captured struct {
		method string
		header string
		body   string
	}
	seen := make(chan captured, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- captured{method: r.Method, header: r.Header.Get("X-Token"), body: string(body)}
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil)

	_, err := d.Do(context.Background(), Request{
		URL:     srv.URL,
		Method:  "POST",
		Headers: map[string]string{"X-Token": "secret"},
		Body:    map[string]any{"phone": "123"},
	})
	require.NoError(t, err)

	c := <-seen
	assert.Equal(t, http.MethodPost, c.method)
	assert.Equal(t, "secret", c.header)
	assert.JSONEq(t, `{"phone":"123"}`, c.body)

	// GET never carries the body
	_, err = d.Do(context.Background(), Request{
		URL:    srv.URL,
		Method: "GET",
		Body:   map[string]any{"phone": "123"},
	})
	require.NoError(t, err)

	c = <-seen
	assert.Equal(t, http.MethodGet, c.method)
	assert.Empty(t, c.body)
}

func TestDispatcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil)

	_, err := d.Do(context.Background(), Request{URL: srv.URL, Method: "GET"})
	assert.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "502")

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = d.Do(context.Background(), Request{URL: closed.URL, Method: "GET"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)

	_, err = d.Do(context.Background(), Request{Method: "GET"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
