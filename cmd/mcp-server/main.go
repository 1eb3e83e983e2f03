package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/config"
	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/mcp"
)

func main() {
	cfg, err := config.LoadMCP()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout carries the MCP protocol, logs go to stderr or LOG_FILE
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	client := mcp.NewClient(cfg.GatewayURL, cfg.DeviceID, cfg.Timeout)
	mcpServer := mcp.NewMCPServer("WhatsApp MCP API", "1.0.0", client)

	logger.Info("MCP server starting",
		zap.String("gateway", cfg.GatewayURL),
		zap.String("device", cfg.DeviceID))
	if err := mcp.StartMCPServer(mcpServer); err != nil {
		logger.Fatal("failed to start MCP server", zap.Error(err))
	}
}
