package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbenaiss/whatsapp-gateway/services"
	"github.com/mbenaiss/whatsapp-gateway/webhook"
)

// deviceID returns the device addressed by the route, falling back to the
// default device for the single-device routes
func (s *Server) deviceID(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return s.service.DefaultDevice()
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, webhook.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDeviceExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrMultiDeviceDisabled):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotReady), errors.Is(err, services.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusCode(err), ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    s.service.Devices(),
	})
}

func (s *Server) handleDeviceStatus(c *gin.Context) {
	status, err := s.service.Status(s.deviceID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

func (s *Server) handleQR(c *gin.Context) {
	qr, ready, err := s.service.GetQR(s.deviceID(c))
	if err != nil {
		fail(c, err)
		return
	}

	if ready {
		c.JSON(http.StatusOK, gin.H{"authenticated": true})
		return
	}

	// an unrenderable code is reported as no code at all
	c.JSON(http.StatusOK, gin.H{"qr": s.qrDataURL(qr)})
}

func (s *Server) handleGetChats(c *gin.Context) {
	chats, err := s.service.GetChats(s.deviceID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, chats)
}

func (s *Server) handleGetMessages(c *gin.Context) {
	messages, err := s.service.GetMessages(s.deviceID(c), c.Param("chatId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if strings.TrimSpace(req.ChatID) == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chatId and message are required"})
		return
	}

	chatID, err := s.service.SendMessage(c.Request.Context(), s.deviceID(c), req.ChatID, req.Message)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "success", ChatID: chatID})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	disconnected, err := s.service.Disconnect(c.Request.Context(), s.deviceID(c))
	if err != nil {
		fail(c, err)
		return
	}

	if !disconnected {
		c.JSON(http.StatusOK, StatusResponse{Status: "already_disconnected"})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "disconnected"})
}

func (s *Server) handleRestart(c *gin.Context) {
	if err := s.service.Restart(s.deviceID(c)); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "restarting"})
}

func (s *Server) handleWebhookRequest(c *gin.Context) {
	var req webhook.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := req.Validate(); err != nil {
		fail(c, err)
		return
	}

	result, err := s.dispatcher.Do(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "response": result})
}

func (s *Server) handleListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Devices())
}

func (s *Server) handleCreateDevice(c *gin.Context) {
	// the body is optional
	var req CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	id, err := s.service.CreateDevice(req.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateDeviceRequest{DeviceID: id})
}

func (s *Server) handleRemoveDevice(c *gin.Context) {
	if err := s.service.RemoveDevice(c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "removed"})
}
