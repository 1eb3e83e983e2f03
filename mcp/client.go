package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/mbenaiss/whatsapp-gateway/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client calls the gateway HTTP API
type Client struct {
	http     *resty.Client
	deviceID string
}

type apiError struct {
	Error string `json:"error"`
}

// NewClient creates a client for the gateway at baseURL. deviceID selects the
// device used when a tool call names none; empty means the default device.
func NewClient(baseURL, deviceID string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetJSONMarshaler(json.Marshal).
			SetJSONUnmarshaler(json.Unmarshal),
		deviceID: deviceID,
	}
}

// path builds the route for device, using the single-device routes when no
// device is given
func (c *Client) path(device, suffix string) string {
	if device == "" {
		device = c.deviceID
	}
	if device == "" {
		return "/api" + suffix
	}
	return "/api/device/" + url.PathEscape(device) + suffix
}

func (c *Client) do(req *resty.Request, method, path string) error {
	var apiErr apiError
	resp, err := req.SetError(&apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call gateway: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode())
	}
	return nil
}

// Devices lists every device with its status
func (c *Client) Devices(ctx context.Context) ([]models.Status, error) {
	var devices []models.Status
	err := c.do(c.http.R().SetContext(ctx).SetResult(&devices), "GET", "/api/devices")
	return devices, err
}

// Status returns the status of device, or of every device when neither the
// call nor the client names one
func (c *Client) Status(ctx context.Context, device string) ([]models.Status, error) {
	if device == "" {
		device = c.deviceID
	}

	if device == "" {
		var resp struct {
			Data []models.Status `json:"data"`
		}
		err := c.do(c.http.R().SetContext(ctx).SetResult(&resp), "GET", "/api/status")
		return resp.Data, err
	}

	var resp struct {
		Data models.Status `json:"data"`
	}
	if err := c.do(c.http.R().SetContext(ctx).SetResult(&resp), "GET", c.path(device, "/status")); err != nil {
		return nil, err
	}
	return []models.Status{resp.Data}, nil
}

// Chats lists the chats of a device
func (c *Client) Chats(ctx context.Context, device string) ([]models.Chat, error) {
	var chats []models.Chat
	err := c.do(c.http.R().SetContext(ctx).SetResult(&chats), "GET", c.path(device, "/chats"))
	return chats, err
}

// Messages returns the history of one chat, oldest first
func (c *Client) Messages(ctx context.Context, device, chatID string) ([]models.Message, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	var msgs []models.Message
	err := c.do(c.http.R().SetContext(ctx).SetResult(&msgs), "GET", c.path(device, "/chat/"+url.PathEscape(chatID)))
	return msgs, err
}

// Send sends a text message and returns the normalized chat id
func (c *Client) Send(ctx context.Context, device, chatID, message string) (string, error) {
	var resp struct {
		Status string `json:"status"`
		ChatID string `json:"chatId"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chatId": chatID, "message": message}).
		SetResult(&resp)
	if err := c.do(req, "POST", c.path(device, "/send")); err != nil {
		return "", err
	}
	return resp.ChatID, nil
}

// Disconnect logs a device out. It returns the status reported by the gateway.
func (c *Client) Disconnect(ctx context.Context, device string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(c.http.R().SetContext(ctx).SetResult(&resp), "POST", c.path(device, "/disconnect")); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// WebhookRequest asks the gateway to perform a test webhook call
func (c *Client) WebhookRequest(ctx context.Context, body map[string]any) (any, error) {
	var resp struct {
		Status   string `json:"status"`
		Response any    `json:"response"`
	}
	req := c.http.R().SetContext(ctx).SetBody(body).SetResult(&resp)
	if err := c.do(req, "POST", "/api/webhook/request"); err != nil {
		return nil, err
	}
	return resp.Response, nil
}
