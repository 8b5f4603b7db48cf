// Package websocket serves the browser socket, bridges audio to AssemblyAI and exposes the
// session and voice-profile REST endpoints.
package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/raihanakbr/consult-roles/internal/config"
	"github.com/raihanakbr/consult-roles/internal/session"
	"github.com/raihanakbr/consult-roles/internal/voiceprint"
	"github.com/sirupsen/logrus"
)

// maxIngestBytes bounds a single client frame.
const maxIngestBytes = 4 << 20

type Server struct {
	cfg      *config.Root
	sessions *session.Store
	profiles *voiceprint.Store
	dialer   WebsocketDialer
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	chunks   chunking
}

func NewServer(cfg *config.Root, sessions *session.Store, profiles *voiceprint.Store, dialer WebsocketDialer, log logrus.FieldLogger) *Server {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		profiles: profiles,
		dialer:   dialer,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		chunks:   newChunking(cfg),
	}
}

// Routes registers the websocket and REST endpoints on a dedicated mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocketConnection)
	mux.HandleFunc("/api/session", s.GetSessionHandler)
	mux.HandleFunc("/api/transcripts", s.GetTranscriptsHandler)
	mux.HandleFunc("/api/roles", s.GetRolesHandler)
	mux.HandleFunc("/api/sessions/end", s.EndSessionHandler)
	mux.HandleFunc("/api/profiles", s.ProfilesHandler)
	return mux
}
