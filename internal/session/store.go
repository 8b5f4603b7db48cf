// Package session tracks live conversations by connection id.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/sirupsen/logrus"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session is closed")
)

// Entry is one conversation. Batches for the same entry are processed one at a time.
type Entry struct {
	ID        string
	StartTime time.Time

	mu           sync.Mutex
	state        *diarize.Session
	profileID    string
	status       Status
	endTime      *time.Time
	errMessage   string
	audioSeconds float64
	lastActivity time.Time
	conns        int
	now          func() time.Time
}

// Info is a point-in-time view of an entry.
type Info struct {
	ID                 string             `json:"id"`
	Status             Status             `json:"status"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            *time.Time         `json:"end_time,omitempty"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	TotalAudioDuration float64            `json:"total_audio_duration"`
	SpeakersExpected   int                `json:"speakers_expected,omitempty"`
	ProfileID          string             `json:"profile_id,omitempty"`
	Language           string             `json:"language,omitempty"`
	Segments           []diarize.Segment  `json:"segments"`
	Assignment         diarize.Assignment `json:"assignment"`
	Features           diarize.Snapshot   `json:"features"`
}

// Process runs one batch through the entry's conversation state.
func (e *Entry) Process(b diarize.Batch) (diarize.Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusActive {
		return diarize.Update{}, fmt.Errorf("%w: %s is %s", ErrClosed, e.ID, e.status)
	}
	e.lastActivity = e.now()
	return e.state.Process(b), nil
}

// Touch marks the entry as in use without processing anything.
func (e *Entry) Touch() {
	e.mu.Lock()
	e.lastActivity = e.now()
	e.mu.Unlock()
}

// Complete ends an active entry. audioSeconds is recorded when positive.
func (e *Entry) Complete(audioSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusActive {
		return
	}
	e.status = StatusCompleted
	if audioSeconds > 0 {
		e.audioSeconds = audioSeconds
	}
	end := e.now()
	e.endTime = &end
}

// Fail marks the entry as errored.
func (e *Entry) Fail(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = StatusError
	e.errMessage = message
	end := e.now()
	e.endTime = &end
}

func (e *Entry) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Options returns the conversation options the entry was created with.
func (e *Entry) Options() diarize.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Options()
}

func (e *Entry) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	opts := e.state.Options()
	info := Info{
		ID:                 e.ID,
		Status:             e.status,
		StartTime:          e.StartTime,
		ErrorMessage:       e.errMessage,
		TotalAudioDuration: e.audioSeconds,
		SpeakersExpected:   opts.SpeakersExpected,
		ProfileID:          e.profileID,
		Language:           opts.Language,
		Segments:           e.state.Segments(),
		Assignment:         e.state.Assignment(),
		Features:           e.state.Features(),
	}
	if e.endTime != nil {
		end := *e.endTime
		info.EndTime = &end
	}
	return info
}

// Attach records a live connection on the entry. Attached entries are never evicted.
func (e *Entry) Attach() {
	e.mu.Lock()
	e.conns++
	e.lastActivity = e.now()
	e.mu.Unlock()
}

// Detach releases a connection recorded by Attach.
func (e *Entry) Detach() {
	e.mu.Lock()
	if e.conns > 0 {
		e.conns--
	}
	e.lastActivity = e.now()
	e.mu.Unlock()
}

// idleSince reports how long the entry has been idle at t. Entries with a live connection
// are never idle.
func (e *Entry) idleSince(t time.Time) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns > 0 {
		return 0, false
	}
	return t.Sub(e.lastActivity), true
}

// Store owns every entry by id. The zero value is not usable; call NewStore.
type Store struct {
	log         logrus.FieldLogger
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates a store that evicts entries idle for longer than idleTimeout.
// A non-positive idleTimeout disables eviction.
func NewStore(idleTimeout time.Duration, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		log:         log,
		idleTimeout: idleTimeout,
		now:         time.Now,
		entries:     make(map[string]*Entry),
	}
}

// Open resumes the entry for id or creates it. An empty id gets a fresh ULID. A completed
// or failed entry is reactivated with its segments kept; opts only apply to new entries.
func (s *Store) Open(id string, opts diarize.Options) (e *Entry, resumed bool) {
	if id == "" {
		id = ulid.Make().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.mu.Lock()
		if e.status != StatusActive {
			e.status = StatusActive
			e.endTime = nil
			e.errMessage = ""
			e.audioSeconds = 0
		}
		e.lastActivity = s.now()
		e.mu.Unlock()
		return e, true
	}

	log := s.log.WithField("session", id)
	now := s.now()
	e = &Entry{
		ID:           id,
		StartTime:    now,
		state:        diarize.NewSession(opts, log),
		status:       StatusActive,
		lastActivity: now,
		now:          s.now,
	}
	if opts.Profile != nil {
		e.profileID = opts.Profile.ID
	}
	s.entries[id] = e
	log.WithFields(logrus.Fields{
		"speakers_expected": opts.SpeakersExpected,
		"profile":           e.profileID,
	}).Info("Created new session")
	return e, false
}

// Get returns the entry for id.
func (s *Store) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Process looks up id and processes the batch on it.
func (s *Store) Process(id string, b diarize.Batch) (diarize.Update, error) {
	e, err := s.Get(id)
	if err != nil {
		return diarize.Update{}, err
	}
	return e.Process(b)
}

// End completes the entry. It stays queryable until evicted.
func (s *Store) End(id string) (Info, error) {
	e, err := s.Get(id)
	if err != nil {
		return Info{}, err
	}
	e.Complete(0)
	s.log.WithField("session", id).Info("Session ended")
	return e.Info(), nil
}

// Len is the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reap drops entries idle for longer than the idle timeout and returns how many it removed.
// Entries with an attached connection are kept.
func (s *Store) Reap() int {
	if s.idleTimeout <= 0 {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if idle, ok := e.idleSince(now); ok && idle > s.idleTimeout {
			delete(s.entries, id)
			removed++
			s.log.WithFields(logrus.Fields{"session": id, "idle": idle.Round(time.Second)}).Info("Evicted idle session")
		}
	}
	return removed
}

// Run reaps on every tick until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}
