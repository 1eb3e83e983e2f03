package mcp

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/mbenaiss/whatsapp-gateway/models"
)

// Gateway is the part of the gateway API the tools use
type Gateway interface {
	Devices(ctx context.Context) ([]models.Status, error)
	Status(ctx context.Context, device string) ([]models.Status, error)
	Chats(ctx context.Context, device string) ([]models.Chat, error)
	Messages(ctx context.Context, device, chatID string) ([]models.Message, error)
	Send(ctx context.Context, device, chatID, message string) (string, error)
	Disconnect(ctx context.Context, device string) (string, error)
	WebhookRequest(ctx context.Context, body map[string]any) (any, error)
}

type handlers struct {
	gateway Gateway
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports a failed gateway call to the model as an error result
func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(err.Error())},
		IsError: true,
	}
}

func paginate[T any](items []T, limit, page int) []T {
	if limit <= 0 {
		limit = 20
	}
	if page < 0 {
		page = 0
	}
	if page >= len(items)/limit+1 {
		return []T{}
	}
	start := page * limit
	if start >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit < end-start {
		end = start + limit
	}
	return items[start:end]
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	v, err := cast.ToStringE(args[key])
	if err != nil || strings.TrimSpace(v) == "" {
		return "", errors.New(key + " must be a non-empty string")
	}
	return v, nil
}

func (h *handlers) listDevicesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := h.gateway.Devices(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(devices)
}

func (h *handlers) getStatusHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device := cast.ToString(request.Params.Arguments["device_id"])

	status, err := h.gateway.Status(ctx, device)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(status)
}

func (h *handlers) listChatsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	device := cast.ToString(args["device_id"])
	query := strings.ToLower(cast.ToString(args["query"]))
	limit := cast.ToInt(args["limit"])
	page := cast.ToInt(args["page"])

	chats, err := h.gateway.Chats(ctx, device)
	if err != nil {
		return toolError(err), nil
	}

	filtered := make([]models.Chat, 0, len(chats))
	for _, c := range chats {
		if query == "" || strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(c.ID, query) {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i].Name) < strings.ToLower(filtered[j].Name)
	})

	return jsonResult(paginate(filtered, limit, page))
}

func (h *handlers) searchContactsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := requiredString(request.Params.Arguments, "query")
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)

	chats, err := h.gateway.Chats(ctx, cast.ToString(request.Params.Arguments["device_id"]))
	if err != nil {
		return toolError(err), nil
	}

	contacts := []models.Chat{}
	for _, c := range chats {
		if c.IsGroup {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(c.ID, query) {
			contacts = append(contacts, c)
		}
	}
	return jsonResult(contacts)
}

func (h *handlers) listMessagesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	chatID, err := requiredString(args, "chat_id")
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(cast.ToString(args["query"]))
	limit := cast.ToInt(args["limit"])
	page := cast.ToInt(args["page"])

	msgs, err := h.gateway.Messages(ctx, cast.ToString(args["device_id"]), chatID)
	if err != nil {
		return toolError(err), nil
	}

	// newest first, like a chat client scrolling back
	matched := make([]models.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if query == "" || strings.Contains(strings.ToLower(msgs[i].Body), query) {
			matched = append(matched, msgs[i])
		}
	}

	return jsonResult(paginate(matched, limit, page))
}

func (h *handlers) getLastInteractionHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := requiredString(request.Params.Arguments, "chat_id")
	if err != nil {
		return nil, err
	}

	msgs, err := h.gateway.Messages(ctx, cast.ToString(request.Params.Arguments["device_id"]), chatID)
	if err != nil {
		return toolError(err), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("null"), nil
	}
	return jsonResult(msgs[len(msgs)-1])
}

func (h *handlers) sendMessageHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	recipient, err := requiredString(args, "recipient")
	if err != nil {
		return nil, err
	}
	message, err := requiredString(args, "message")
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"success": true}
	chatID, err := h.gateway.Send(ctx, cast.ToString(args["device_id"]), recipient, message)
	if err != nil {
		result["success"] = false
		result["message"] = err.Error()
	} else {
		result["chatId"] = chatID
		result["message"] = "Message sent"
	}

	return jsonResult(result)
}

func (h *handlers) disconnectHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.gateway.Disconnect(ctx, cast.ToString(request.Params.Arguments["device_id"]))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]string{"status": status})
}

func (h *handlers) webhookRequestHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	target, err := requiredString(args, "url")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"url":    target,
		"method": strings.ToUpper(cast.ToString(args["method"])),
	}
	if body["method"] == "" {
		body["method"] = "GET"
	}
	if v, ok := args["headers"]; ok {
		headers, err := cast.ToStringMapStringE(v)
		if err != nil {
			return nil, errors.New("headers must be an object of strings")
		}
		body["headers"] = headers
	}
	if v, ok := args["mapping"]; ok {
		fields, err := cast.ToStringMapStringE(v)
		if err != nil {
			return nil, errors.New("mapping must be an object of dot paths")
		}
		body["mapping"] = fields
	}
	if v, ok := args["body"]; ok {
		body["body"] = v
	}

	response, err := h.gateway.WebhookRequest(ctx, body)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(response)
}
