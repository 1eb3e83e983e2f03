package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/api"
	"github.com/mbenaiss/whatsapp-gateway/config"
	"github.com/mbenaiss/whatsapp-gateway/events"
	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/services"
	"github.com/mbenaiss/whatsapp-gateway/webhook"
	"github.com/mbenaiss/whatsapp-gateway/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	bus := events.NewBus(logger)
	hooks := EventBus.New()

	var relay *webhook.Relay
	if cfg.Webhook.URL != "" {
		relay, err = webhook.NewRelay(webhook.RelayConfig{
			URL:     cfg.Webhook.URL,
			Method:  cfg.Webhook.Method,
			Timeout: cfg.Webhook.Timeout,
			Workers: cfg.Webhook.Workers,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create webhook relay", zap.Error(err))
		}
		if err := relay.Attach(hooks); err != nil {
			logger.Fatal("failed to attach webhook relay", zap.Error(err))
		}
		logger.Info("relaying messages to webhook",
			zap.String("url", cfg.Webhook.URL),
			zap.String("method", cfg.Webhook.Method))
	}

	factory := whatsapp.NewFactory(whatsapp.Options{
		StoreDir:   cfg.StoreDir,
		QRTerminal: cfg.QRTerminal,
		Logger:     logger,
	})

	manager, err := services.NewManager(services.ManagerConfig{
		DefaultDeviceID: cfg.DefaultDeviceID,
		MultiDevice:     cfg.MultiDevice,
		Session: services.Options{
			SendTimeout:       cfg.Session.SendTimeout,
			BackfillDelay:     cfg.Session.BackfillDelay,
			BackfillLimit:     cfg.Session.BackfillLimit,
			RestartBackoffMin: cfg.Session.RestartBackoffMin,
			RestartBackoffMax: cfg.Session.RestartBackoffMax,
			MaxRestarts:       cfg.Session.MaxRestarts,
		},
	}, factory, bus, hooks, logger)
	if err != nil {
		logger.Fatal("failed to create session manager", zap.Error(err))
	}

	apiServer := api.NewServer(manager, webhook.NewDispatcher(cfg.Webhook.Timeout, logger), api.Options{
		Port:    cfg.Port,
		GinMode: cfg.GinMode,
		Logger:  logger,
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-c
		logger.Info("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := apiServer.Stop(ctx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		manager.Shutdown()
		if relay != nil {
			relay.Close(5 * time.Second)
		}
		bus.Close()
		logger.Info("server gracefully stopped")
	}()

	logger.Info("WhatsApp gateway starting",
		zap.String("port", cfg.Port),
		zap.String("default_device", cfg.DefaultDeviceID),
		zap.Bool("multi_device", cfg.MultiDevice))
	if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("HTTP server error", zap.Error(err))
	}
	<-done
}
