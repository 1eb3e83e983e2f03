package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func deviceParam() mcp.ToolOption {
	return mcp.WithString("device_id",
		mcp.Description("Optional device id; the gateway default device is used when omitted"),
	)
}

// NewMCPServer creates a new MCP server whose tools call the gateway
func NewMCPServer(name string, version string, gateway Gateway) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
	)
	h := &handlers{gateway: gateway}

	listDevicesTool := mcp.NewTool("list_devices",
		mcp.WithDescription("List the WhatsApp devices managed by the gateway with their session state"),
	)

	getDeviceStatusTool := mcp.NewTool("get_device_status",
		mcp.WithDescription("Retrieve the session state of a WhatsApp device"),
		deviceParam(),
	)

	searchContactsTool := mcp.NewTool("search_contacts",
		mcp.WithDescription("Search WhatsApp contacts by name or phone number"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search term for names or phone numbers"),
		),
		deviceParam(),
	)

	listChatsTool := mcp.NewTool("list_chats",
		mcp.WithDescription("Retrieve WhatsApp chats matching specified criteria"),
		mcp.WithString("query",
			mcp.Description("Optional search term to filter chats by name or id"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of chats to return (default 20)"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number for pagination (default 0)"),
		),
		deviceParam(),
	)

	getChatHistoryTool := mcp.NewTool("get_chat_history",
		mcp.WithDescription("Retrieve the recorded messages of a WhatsApp chat, newest first"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat id or phone number with country code"),
		),
		mcp.WithString("query",
			mcp.Description("Optional search term to filter messages by content"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default 20)"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number for pagination (default 0)"),
		),
		deviceParam(),
	)

	getLastInteractionTool := mcp.NewTool("get_last_interaction",
		mcp.WithDescription("Retrieve the most recent WhatsApp message of a chat"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat id or phone number with country code"),
		),
		deviceParam(),
	)

	sendMessageTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a WhatsApp message to a person or group. For group chats, use the group id"),
		mcp.WithString("recipient",
			mcp.Required(),
			mcp.Description("The recipient - either a phone number with country code but without + or other symbols, or a chat id (e.g. '123456789@c.us' or a group id like '123456789@g.us')"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The text of the message to send"),
		),
		deviceParam(),
	)

	disconnectTool := mcp.NewTool("disconnect_device",
		mcp.WithDescription("Log a WhatsApp device out; the gateway then waits for a new pairing"),
		deviceParam(),
	)

	webhookRequestTool := mcp.NewTool("webhook_request",
		mcp.WithDescription("Send an HTTP request through the gateway and optionally extract fields from the JSON response"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL to call"),
		),
		mcp.WithString("method",
			mcp.Description("HTTP method: GET, POST, PUT or DELETE (default GET)"),
		),
		mcp.WithObject("headers",
			mcp.Description("Optional request headers"),
		),
		mcp.WithObject("body",
			mcp.Description("Optional JSON body, sent for POST, PUT and DELETE"),
		),
		mcp.WithObject("mapping",
			mcp.Description("Optional map of output field to dot path into the response, e.g. {\"name\": \"data.user.name\"}"),
		),
	)

	s.AddTool(listDevicesTool, h.listDevicesHandler)
	s.AddTool(getDeviceStatusTool, h.getStatusHandler)
	s.AddTool(searchContactsTool, h.searchContactsHandler)
	s.AddTool(listChatsTool, h.listChatsHandler)
	s.AddTool(getChatHistoryTool, h.listMessagesHandler)
	s.AddTool(getLastInteractionTool, h.getLastInteractionHandler)
	s.AddTool(sendMessageTool, h.sendMessageHandler)
	s.AddTool(disconnectTool, h.disconnectHandler)
	s.AddTool(webhookRequestTool, h.webhookRequestHandler)

	return s
}

// StartMCPServer starts the MCP server
func StartMCPServer(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
