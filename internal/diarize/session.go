// Package diarize attributes clinical roles (Doctor, Patient) to the opaque speaker ids of
// a speech-recognition stream and builds the labeled display segments of a conversation.
package diarize

import (
	"github.com/sirupsen/logrus"
)

// Options configure one conversation.
type Options struct {
	// SpeakersExpected of 1 forces training mode: every unit resolves to Doctor.
	SpeakersExpected int
	// Profile switches role attribution to voice-profile matching.
	Profile  *VoiceProfile
	Language string
}

// Update is the result of processing one batch.
type Update struct {
	Segments   []Segment  `json:"segments"`
	Assignment Assignment `json:"assignment"`
	Units      int        `json:"units"`
	Dropped    int        `json:"dropped"`
	Folded     int        `json:"folded"`
}

// Session is the mutable state of one conversation. It is not safe for concurrent use:
// batches of a session must be processed one at a time.
type Session struct {
	opts       Options
	log        logrus.FieldLogger
	normalizer *Normalizer
	acc        *Accumulator
	builder    SegmentBuilder
	assignment Assignment
}

func NewSession(opts Options, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Session{
		opts:       opts,
		log:        log,
		normalizer: NewNormalizer(log),
		acc:        NewAccumulator(),
	}
	s.assignment = s.assign()
	return s
}

// Process runs a batch through normalization, accumulation, rescoring and segment building.
// Final units are committed before interim units replace the trailing interim run. A final
// batch always clears the interim run, even when none of its records survive normalization.
func (s *Session) Process(b Batch) Update {
	if b.Language == "" {
		b.Language = s.opts.Language
	}
	units := s.normalizer.Normalize(b)

	var finals, interim []Unit
	for _, u := range units {
		if u.IsFinal {
			finals = append(finals, u)
		} else {
			interim = append(interim, u)
		}
	}

	folded := s.acc.Update(finals)
	if folded > 0 {
		s.assignment = s.assign()
		s.logRanking()
	}

	resolve := s.assignment.Resolver()
	if b.IsFinal || len(finals) > 0 {
		s.builder.Commit(finals, resolve)
	}
	if len(interim) > 0 || !b.IsFinal {
		s.builder.Replace(interim, resolve)
	}

	return Update{
		Segments:   s.builder.Segments(),
		Assignment: s.assignment.Clone(),
		Units:      len(units),
		Dropped:    len(b.Records) - len(units),
		Folded:     folded,
	}
}

func (s *Session) assign() Assignment {
	snap := s.acc.Snapshot()
	if s.opts.SpeakersExpected == 1 {
		return SingleSpeaker(snap)
	}
	if s.opts.Profile != nil {
		if a, ok := Match(s.opts.Profile, snap); ok {
			return a
		}
		s.log.WithField("profile", s.opts.Profile.ID).Warn("Voice profile has no characteristics, falling back to ranking")
	}
	return Score(snap)
}

func (s *Session) logRanking() {
	for _, r := range s.assignment.Ranking {
		s.log.WithFields(logrus.Fields{
			"speaker": r.Speaker,
			"role":    r.Role,
			"score":   r.Score,
			"method":  s.assignment.Method,
		}).Debug("Speaker ranked")
	}
}

// Segments returns the current display segments.
func (s *Session) Segments() []Segment { return s.builder.Segments() }

// Assignment returns a copy of the current role assignment.
func (s *Session) Assignment() Assignment { return s.assignment.Clone() }

// Features returns the accumulated per-speaker features.
func (s *Session) Features() Snapshot { return s.acc.Snapshot() }

// Options returns the session configuration.
func (s *Session) Options() Options { return s.opts }

// Clone deep-copies the assignment so callers can hold it across later updates.
func (a Assignment) Clone() Assignment {
	out := a
	out.Roles = make(map[SpeakerID]Role, len(a.Roles))
	for k, v := range a.Roles {
		out.Roles[k] = v
	}
	out.Ranking = append([]Ranked(nil), a.Ranking...)
	return out
}
