package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/raihanakbr/consult-roles/internal/render"
	"github.com/raihanakbr/consult-roles/internal/session"
	"github.com/raihanakbr/consult-roles/internal/voiceprint"
)

// HandleWebSocketConnection handles a new WebSocket connection from a client. Binary frames
// are PCM audio for AssemblyAI; text frames are provider batches in JSON.
func (s *Server) HandleWebSocketConnection(w http.ResponseWriter, r *http.Request) {
	params, status, err := s.parseSessionParams(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	clientWS, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	clientWS.SetReadLimit(maxIngestBytes)

	client := s.newClientConnection(clientWS, r.URL.Query().Get("connection_id"), params)
	client.log.Info("New client connected")

	go func() {
		defer client.Close()

		for {
			messageType, data, err := clientWS.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					client.log.WithError(err).Warn("Error reading from client")
				}
				return
			}

			switch messageType {
			case websocket.BinaryMessage:
				if err := client.HandleAudioData(data); err != nil {
					client.log.WithError(err).Error("Error handling audio data")
					client.send(newErrorMessage(err.Error()))
					return
				}
			case websocket.TextMessage:
				if err := client.HandleIngest(data); err != nil {
					client.log.WithError(err).Warn("Error handling ingest frame")
				}
			default:
				client.log.WithField("message_type", messageType).Warn("Received unknown message type")
			}
		}
	}()
}

func (s *Server) parseSessionParams(r *http.Request) (sessionParams, int, error) {
	q := r.URL.Query()
	p := sessionParams{language: q.Get("language")}

	if raw := q.Get("speakers_expected"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, http.StatusBadRequest, fmt.Errorf("invalid speakers_expected %q", raw)
		}
		p.speakersExpected = n
	}
	if id := q.Get("profile_id"); id != "" {
		profile, err := s.profiles.Get(id)
		if err != nil {
			return p, http.StatusNotFound, err
		}
		p.profile = profile
	}
	return p, http.StatusOK, nil
}

// API endpoint handlers

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request, method string) (*session.Entry, bool) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		http.Error(w, "connection_id parameter is required", http.StatusBadRequest)
		return nil, false
	}
	entry, err := s.sessions.Get(connectionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return entry, true
}

// GetSessionHandler returns status, segments and roles of a session.
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r, http.MethodGet)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entry.Info())
}

// GetTranscriptsHandler returns the segments of a session and their plain-text rendering.
func (s *Server) GetTranscriptsHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r, http.MethodGet)
	if !ok {
		return
	}
	info := entry.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": info.ID,
		"segments":      info.Segments,
		"count":         len(info.Segments),
		"text":          render.Text(info.Segments),
	})
}

// GetRolesHandler returns the current role assignment with per-speaker features.
func (s *Server) GetRolesHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r, http.MethodGet)
	if !ok {
		return
	}
	info := entry.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": info.ID,
		"assignment":    info.Assignment,
		"features":      info.Features,
	})
}

// EndSessionHandler completes a session. Its state stays queryable until evicted.
func (s *Server) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r, http.MethodPost)
	if !ok {
		return
	}
	info, err := s.sessions.End(entry.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// EnrollRequest is a reference recording of a single speaker.
type EnrollRequest struct {
	OwnerName string `json:"ownerName"`
	diarize.WireBatch
}

// UnmarshalJSON reads the owner name next to the batch envelope, whose own decoder would
// otherwise shadow it.
func (e *EnrollRequest) UnmarshalJSON(data []byte) error {
	var owner struct {
		OwnerName string `json:"ownerName"`
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return err
	}
	if err := e.WireBatch.UnmarshalJSON(data); err != nil {
		return err
	}
	e.OwnerName = owner.OwnerName
	return nil
}

// ProfilesHandler lists (GET), enrolls (POST) and deletes (DELETE ?id=) voice profiles.
func (s *Server) ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"profiles": s.profiles.List()})
	case http.MethodPost:
		s.enrollProfile(w, r)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}
		if err := s.profiles.Delete(id); err != nil {
			if errors.Is(err, voiceprint.ErrNotFound) {
				http.Error(w, "Profile not found", http.StatusNotFound)
				return
			}
			s.log.WithError(err).Error("Failed to delete profile")
			http.Error(w, "Failed to delete profile", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) enrollProfile(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	profile, err := diarize.EnrollBatch(req.OwnerName, req.Batch(), s.cfg.Enrollment.MinReference, s.log)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stored, err := s.profiles.Add(*profile)
	if err != nil {
		s.log.WithError(err).Error("Failed to store profile")
		http.Error(w, "Failed to store profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
