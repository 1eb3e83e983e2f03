package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/services"
	"github.com/mbenaiss/whatsapp-gateway/webhook"
)

// Dispatcher performs test webhook calls
type Dispatcher interface {
	Do(ctx context.Context, req webhook.Request) (any, error)
}

// Options configures the HTTP server
type Options struct {
	Port    string
	GinMode string
	Logger  *zap.Logger
}

// Server represents the API handler
type Server struct {
	service    services.Service
	dispatcher Dispatcher
	router     *gin.Engine
	server     *http.Server
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewServer creates a new API server with every route registered
func NewServer(service services.Service, dispatcher Dispatcher, opts Options) *Server {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}

	logger := logging.OrNop(opts.Logger).Named("api")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		service:    service,
		dispatcher: dispatcher,
		router:     router,
		server: &http.Server{
			Addr:              ":" + opts.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.registerRoutes(router)

	return s
}

// SendMessageRequest represents the request body for sending messages
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// CreateDeviceRequest represents the optional body of POST /api/device/new
type CreateDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// Response represents a generic API response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is returned by every failing gateway route
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse acknowledges an action
type StatusResponse struct {
	Status string `json:"status"`
	ChatID string `json:"chatId,omitempty"`
}

// registerRoutes registers all API routes. The routes without a device id
// act on the default device.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/qr", s.handleQR)
		api.GET("/chats", s.handleGetChats)
		api.GET("/chat/:chatId", s.handleGetMessages)
		api.POST("/send", s.handleSendMessage)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/webhook/request", s.handleWebhookRequest)

		api.GET("/devices", s.handleListDevices)
		api.POST("/device/new", s.handleCreateDevice)
		api.DELETE("/device/:id", s.handleRemoveDevice)
	}

	device := api.Group("/device/:id")
	{
		device.GET("/status", s.handleDeviceStatus)
		device.GET("/qr", s.handleQR)
		device.GET("/chats", s.handleGetChats)
		device.GET("/chat/:chatId", s.handleGetMessages)
		device.GET("/ws", s.handleWebSocket)
		device.POST("/send", s.handleSendMessage)
		device.POST("/disconnect", s.handleDisconnect)
		device.POST("/restart", s.handleRestart)
	}
}

// Handler returns the HTTP handler serving the routes
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("api: listening", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("api: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
