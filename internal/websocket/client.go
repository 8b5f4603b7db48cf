package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/raihanakbr/consult-roles/internal/session"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// defaultSpeaker labels turns when upstream diarization is disabled.
const defaultSpeaker diarize.SpeakerID = "A"

type WebsocketDialer interface {
	Dial(string, http.Header) (*websocket.Conn, *http.Response, error)
}

// sessionParams are the conversation options requested by a connecting client.
type sessionParams struct {
	speakersExpected int
	profile          *diarize.VoiceProfile
	language         string
}

func (p sessionParams) options() diarize.Options {
	return diarize.Options{SpeakersExpected: p.speakersExpected, Profile: p.profile, Language: p.language}
}

// ClientConnection represents a client connected to our server
type ClientConnection struct {
	ID       string
	ClientWS *websocket.Conn
	// Dialer used to establish connections to AssemblyAI
	Dialer       WebsocketDialer
	AssemblyWS   *websocket.Conn
	Mutex        sync.Mutex
	Done         chan bool
	AudioBuffer  []byte
	LastSentTime time.Time
	StartTime    time.Time
	TotalAudioMs float64
	// Entry is opened on the first audio or ingest frame.
	Entry *session.Entry

	server *Server
	params sessionParams
	log    logrus.FieldLogger
}

func (s *Server) newClientConnection(clientWS *websocket.Conn, connectionID string, params sessionParams) *ClientConnection {
	if connectionID == "" {
		connectionID = ulid.Make().String()
	}
	return &ClientConnection{
		ID:           connectionID,
		ClientWS:     clientWS,
		Dialer:       s.dialer,
		Done:         make(chan bool),
		AudioBuffer:  make([]byte, 0, s.chunks.maxSize*2),
		LastSentTime: time.Now(),
		StartTime:    time.Now(),
		server:       s,
		params:       params,
		log:          s.log.WithField("session", connectionID),
	}
}

// ensureSession opens or resumes the session entry. Non-zero override values from an ingest
// frame take precedence over the connection parameters for new sessions.
func (cc *ClientConnection) ensureSession(override diarize.WireBatch) (*session.Entry, error) {
	if cc.Entry != nil {
		return cc.Entry, nil
	}
	params := cc.params
	if override.SpeakersExpected > 0 {
		params.speakersExpected = override.SpeakersExpected
	}
	if override.LanguageCode != "" && params.language == "" {
		params.language = override.LanguageCode
	}
	if override.ProfileID != "" {
		p, err := cc.server.profiles.Get(override.ProfileID)
		if err != nil {
			return nil, err
		}
		params.profile = p
	}

	entry, resumed := cc.server.sessions.Open(cc.ID, params.options())
	if resumed {
		cc.log.Info("Resumed existing session")
	}
	entry.Attach()
	cc.Entry = entry
	return entry, nil
}

// ConnectToAssemblyAI dials the realtime endpoint. Callers hold cc.Mutex.
func (cc *ClientConnection) ConnectToAssemblyAI() error {
	cfg := cc.server.cfg.AssemblyAI
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse AssemblyAI URL: %w", err)
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	if cfg.SpeakerLabels {
		q.Set("speaker_labels", "true")
	}
	u.RawQuery = q.Encode()

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("missing environment variable %s", cfg.APIKeyEnv)
	}
	headers := http.Header{}
	headers.Set("Authorization", apiKey)

	cc.log.WithField("url", u.String()).Info("Connecting to AssemblyAI")
	assemblyWS, _, err := cc.Dialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}
	cc.AssemblyWS = assemblyWS
	cc.log.Info("Connected to AssemblyAI")

	go cc.listenToAssemblyAI(assemblyWS)
	return nil
}

// listenToAssemblyAI turns upstream messages into batches for the session.
func (cc *ClientConnection) listenToAssemblyAI(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-cc.Done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			cc.log.WithError(err).Debug("AssemblyAI stream closed")
			return
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &base); err != nil {
			cc.log.WithError(err).Warn("Error parsing AssemblyAI message")
			continue
		}

		switch base.Type {
		case "Begin":
			var begin BeginMessage
			if err := json.Unmarshal(message, &begin); err == nil {
				cc.log.WithFields(logrus.Fields{"upstream_id": begin.ID, "expires_at": begin.ExpiresAt}).Info("AssemblyAI session began")
			}
		case "Turn":
			var turn TurnMessage
			if err := json.Unmarshal(message, &turn); err != nil {
				cc.log.WithError(err).Warn("Error parsing Turn message")
				continue
			}
			cc.handleTurn(turn)
		case "Termination":
			var term TerminationMessage
			if err := json.Unmarshal(message, &term); err == nil {
				cc.log.WithFields(logrus.Fields{
					"audio_seconds":   term.AudioDurationSeconds,
					"session_seconds": term.SessionDurationSeconds,
				}).Info("AssemblyAI session terminated")
				cc.Entry.Complete(term.AudioDurationSeconds)
			}
			return
		case "Error":
			var upErr UpstreamError
			if err := json.Unmarshal(message, &upErr); err != nil {
				cc.log.WithError(err).Warn("Failed to parse AssemblyAI error")
				return
			}
			cc.log.WithFields(logrus.Fields{"code": upErr.ErrorCode, "message": upErr.ErrorMessage}).Error("AssemblyAI error")
			cc.Entry.Fail(fmt.Sprintf("Code=%v, Message=%v", upErr.ErrorCode, upErr.ErrorMessage))
			cc.send(newErrorMessage(fmt.Sprintf("Transcription error: %v", upErr.ErrorMessage)))
			return
		default:
			cc.log.WithField("type", base.Type).Debug("Ignoring AssemblyAI message")
		}
	}
}

func (cc *ClientConnection) handleTurn(turn TurnMessage) {
	if turn.Transcript == "" {
		return
	}
	cc.Mutex.Lock()
	elapsed := cc.TotalAudioMs
	cc.Mutex.Unlock()

	batch := turnBatch(turn, cc.server.cfg.AssemblyAI.FormatTurns, cc.server.cfg.AssemblyAI.SpeakerLabels, elapsed)
	cc.process(batch)
}

// turnBatch maps one Turn onto a single-utterance batch. With formatted turns only the
// formatted message is final; otherwise end_of_turn marks finality. Turns without words
// get a two second window ending at elapsedMs.
func turnBatch(turn TurnMessage, formatTurns, speakerLabels bool, elapsedMs float64) diarize.Batch {
	final := turn.TurnIsFormatted || (!formatTurns && turn.EndOfTurn)

	rec := diarize.UtteranceRecord{Speaker: diarize.SpeakerID(turn.SpeakerLabel), Text: turn.Transcript}
	if rec.Speaker == "" && len(turn.Words) > 0 {
		rec.Speaker = diarize.SpeakerID(turn.Words[0].Speaker)
	}
	if rec.Speaker == "" && !speakerLabels {
		rec.Speaker = defaultSpeaker
	}

	if len(turn.Words) > 0 {
		rec.Start = diarize.At(int64(turn.Words[0].Start))
		rec.End = diarize.At(int64(turn.Words[len(turn.Words)-1].End))
		conf := make([]float64, 0, len(turn.Words))
		for _, w := range turn.Words {
			if w.Confidence > 0 {
				conf = append(conf, w.Confidence)
			}
		}
		if len(conf) > 0 {
			avg := floats.Sum(conf) / float64(len(conf))
			rec.Confidence = &avg
		}
	} else {
		end := int64(elapsedMs)
		rec.Start = diarize.At(max(end-2000, 0))
		rec.End = diarize.At(end)
	}

	return diarize.Batch{IsFinal: final, Records: []diarize.Record{diarize.UtteranceOf(rec)}}
}

// HandleIngest processes a provider batch sent by the client as a JSON text frame.
func (cc *ClientConnection) HandleIngest(data []byte) error {
	w, err := diarize.DecodeBatch(data)
	if err != nil {
		cc.send(newErrorMessage(err.Error()))
		return err
	}
	if w.Type != "" && w.Type != "batch" {
		cc.log.WithField("type", w.Type).Debug("Ignoring client message")
		return nil
	}
	if _, err := cc.ensureSession(w); err != nil {
		cc.send(newErrorMessage(err.Error()))
		return err
	}
	cc.process(w.Batch())
	return nil
}

func (cc *ClientConnection) process(b diarize.Batch) {
	up, err := cc.Entry.Process(b)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			cc.log.Debug("Dropping batch for closed session")
			return
		}
		cc.log.WithError(err).Warn("Error processing batch")
		return
	}
	if up.Dropped > 0 {
		cc.log.WithField("dropped", up.Dropped).Debug("Batch had malformed records")
	}
	cc.send(newSegmentsMessage(cc.ID, up))
}

func (cc *ClientConnection) send(v any) {
	cc.Mutex.Lock()
	defer cc.Mutex.Unlock()

	if cc.ClientWS == nil {
		return
	}
	if err := cc.ClientWS.WriteJSON(v); err != nil {
		cc.log.WithError(err).Warn("Error sending to client")
	}
}

// HandleAudioData buffers PCM and forwards it to AssemblyAI in bounded chunks, connecting
// on the first frame.
func (cc *ClientConnection) HandleAudioData(audioData []byte) error {
	entry, err := cc.ensureSession(diarize.WireBatch{})
	if err != nil {
		return err
	}
	entry.Touch()

	cc.Mutex.Lock()
	defer cc.Mutex.Unlock()

	if cc.AssemblyWS == nil {
		if err := cc.ConnectToAssemblyAI(); err != nil {
			return err
		}
	}

	cc.AudioBuffer = append(cc.AudioBuffer, audioData...)
	chunks := cc.server.chunks

	for len(cc.AudioBuffer) >= chunks.minSize {
		chunkSize := evenBytes(min(len(cc.AudioBuffer), chunks.maxSize))
		if chunkSize == 0 {
			break
		}

		chunk := make([]byte, chunkSize)
		copy(chunk, cc.AudioBuffer[:chunkSize])
		if err := cc.AssemblyWS.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("failed to send audio to AssemblyAI: %w", err)
		}

		cc.AudioBuffer = cc.AudioBuffer[chunkSize:]
		cc.LastSentTime = time.Now()
		durationMs := chunks.durationMs(chunkSize)
		cc.TotalAudioMs += durationMs

		cc.log.WithFields(logrus.Fields{
			"bytes":     chunkSize,
			"ms":        durationMs,
			"remaining": len(cc.AudioBuffer),
		}).Debug("Sent chunk to AssemblyAI")
	}
	return nil
}

// Close terminates the upstream stream, closes the client socket and completes the session.
func (cc *ClientConnection) Close() {
	cc.Mutex.Lock()
	defer cc.Mutex.Unlock()

	select {
	case <-cc.Done:
		return
	default:
		close(cc.Done)
	}

	if len(cc.AudioBuffer) > 0 {
		cc.log.WithField("bytes", len(cc.AudioBuffer)).Debug("Discarding remaining audio for disconnected client")
		cc.AudioBuffer = cc.AudioBuffer[:0]
	}

	if cc.AssemblyWS != nil {
		if data, err := json.Marshal(TerminateMessage{Type: "Terminate"}); err == nil {
			if err := cc.AssemblyWS.WriteMessage(websocket.TextMessage, data); err != nil {
				cc.log.WithError(err).Warn("Error sending termination message to AssemblyAI")
			}
		}
		time.Sleep(100 * time.Millisecond)
		cc.AssemblyWS.Close()
		cc.AssemblyWS = nil
	}

	if cc.ClientWS != nil {
		cc.ClientWS.Close()
		cc.ClientWS = nil
	}

	if cc.Entry != nil {
		cc.Entry.Detach()
		cc.Entry.Complete(cc.TotalAudioMs / 1000.0)
	}
	cc.log.WithField("audio_seconds", cc.TotalAudioMs/1000.0).Info("Closed connection")
}
