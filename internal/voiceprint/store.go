// Package voiceprint persists enrolled voice profiles across sessions.
package voiceprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/sirupsen/logrus"
)

// CurrentVersion of the on-disk format.
const CurrentVersion = 1

var ErrNotFound = errors.New("voice profile not found")

type fileFormat struct {
	Version  int                    `json:"version"`
	Profiles []diarize.VoiceProfile `json:"profiles"`
}

// Store keeps profiles in a single JSON file. Profiles are immutable once added.
type Store struct {
	path string
	log  logrus.FieldLogger

	mu   sync.RWMutex
	data fileFormat
}

// Open loads the store at path, starting empty when the file does not exist.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{path: path, log: log, data: fileFormat{Version: CurrentVersion}}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	log.WithFields(logrus.Fields{"path": path, "profiles": len(s.data.Profiles)}).Info("Voice profile store ready")
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if s.data.Version < CurrentVersion {
		s.data.Version = CurrentVersion
		return s.saveLocked()
	}
	return nil
}

// saveLocked writes through a temp file and rename. Callers hold mu.
func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Add assigns an id to the profile and persists it.
func (s *Store) Add(p diarize.VoiceProfile) (*diarize.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uuid.New().String()
	s.data.Profiles = append(s.data.Profiles, p)
	if err := s.saveLocked(); err != nil {
		s.data.Profiles = s.data.Profiles[:len(s.data.Profiles)-1]
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"id": p.ID, "owner": p.OwnerName}).Info("Voice profile enrolled")
	return &p, nil
}

// Get returns a copy of the profile with the given id.
func (s *Store) Get(id string) (*diarize.VoiceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Profiles {
		if s.data.Profiles[i].ID == id {
			p := s.data.Profiles[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns all profiles, oldest first.
func (s *Store) List() []diarize.VoiceProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]diarize.VoiceProfile, len(s.data.Profiles))
	copy(out, s.data.Profiles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a profile.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Profiles {
		if s.data.Profiles[i].ID != id {
			continue
		}
		removed := s.data.Profiles[i]
		s.data.Profiles = append(s.data.Profiles[:i:i], s.data.Profiles[i+1:]...)
		if err := s.saveLocked(); err != nil {
			s.data.Profiles = append(s.data.Profiles[:i:i], append([]diarize.VoiceProfile{removed}, s.data.Profiles[i:]...)...)
			return err
		}
		s.log.WithFields(logrus.Fields{"id": id, "owner": removed.OwnerName}).Info("Voice profile deleted")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Count is the number of stored profiles.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Profiles)
}
