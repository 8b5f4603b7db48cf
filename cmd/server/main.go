package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raihanakbr/consult-roles/internal/config"
	"github.com/raihanakbr/consult-roles/internal/logging"
	"github.com/raihanakbr/consult-roles/internal/session"
	"github.com/raihanakbr/consult-roles/internal/voiceprint"
	ws "github.com/raihanakbr/consult-roles/internal/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	if cfg.AssemblyAI.APIKey() == "" {
		log.Warnf("Missing environment variable %s; audio streaming is disabled, JSON ingest still works", cfg.AssemblyAI.APIKeyEnv)
	}

	profiles, err := voiceprint.Open(cfg.Profiles.Path, log)
	if err != nil {
		log.Fatalf("Failed to open voice profiles: %v", err)
	}
	sessions := session.NewStore(cfg.Session.IdleTimeout, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx, cfg.Session.ReapInterval)

	server := ws.NewServer(cfg, sessions, profiles, websocket.DefaultDialer, log)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.Server.Addr).Info("Starting server")
	log.Infof("WebSocket endpoint: ws://localhost%s/ws?connection_id=<id>", cfg.Server.Addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Info("Server stopped")
}
