package diarize

import "strings"

// SpeakerFeatures are monotonically accumulating per-speaker counters built from final units only.
type SpeakerFeatures struct {
	UtteranceCount     int   `json:"utteranceCount"`
	WordCount          int   `json:"wordCount"`
	QuestionCount      int   `json:"questionCount"`
	MedicalTermCount   int   `json:"medicalTermCount"`
	CommandPhraseCount int   `json:"commandPhraseCount"`
	TotalDurationMs    int64 `json:"totalDurationMs"`
	IsFirstSpeaker     bool  `json:"isFirstSpeaker"`

	// ConfidenceSum feeds the voice-profile matcher's average confidence.
	ConfidenceSum float64 `json:"confidenceSum"`
}

// AverageConfidence is the mean confidence over the speaker's final units.
func (f SpeakerFeatures) AverageConfidence() float64 {
	if f.UtteranceCount == 0 {
		return 0
	}
	return f.ConfidenceSum / float64(f.UtteranceCount)
}

// MedicalTermDensity is medical terms per word.
func (f SpeakerFeatures) MedicalTermDensity() float64 {
	return float64(f.MedicalTermCount) / float64(max(f.WordCount, 1))
}

// QuestionFrequency is the share of the speaker's utterances that are questions.
func (f SpeakerFeatures) QuestionFrequency() float64 {
	return float64(f.QuestionCount) / float64(max(f.UtteranceCount, 1))
}

func (f *SpeakerFeatures) add(u Unit) {
	lower := strings.ToLower(u.Text)
	f.UtteranceCount++
	f.WordCount += wordCount(u.Text)
	if isQuestion(lower) {
		f.QuestionCount++
	}
	f.MedicalTermCount += medicalTermCount(lower)
	f.CommandPhraseCount += commandPhraseCount(lower)
	f.TotalDurationMs += u.DurationMs()
	f.ConfidenceSum += u.Confidence
}

// SpeakerSnapshot pairs a speaker with its features.
type SpeakerSnapshot struct {
	Speaker  SpeakerID       `json:"speakerId"`
	Features SpeakerFeatures `json:"features"`
}

// Snapshot is an ordered view of the accumulated features. Order is first appearance
// among final units, which is also the scorer's tie-break order.
type Snapshot []SpeakerSnapshot

// Lookup returns the features for a speaker.
func (s Snapshot) Lookup(id SpeakerID) (SpeakerFeatures, bool) {
	for _, sp := range s {
		if sp.Speaker == id {
			return sp.Features, true
		}
	}
	return SpeakerFeatures{}, false
}

// Accumulator folds final units into per-speaker features for one session.
type Accumulator struct {
	order    []SpeakerID
	features map[SpeakerID]*SpeakerFeatures
}

func NewAccumulator() *Accumulator {
	return &Accumulator{features: make(map[SpeakerID]*SpeakerFeatures)}
}

// Update folds the final units of a batch into the counters. Interim units are ignored so
// that rescoring is reproducible from final data alone. It reports how many units were folded.
func (a *Accumulator) Update(units []Unit) int {
	folded := 0
	for _, u := range units {
		if !u.IsFinal {
			continue
		}
		f, ok := a.features[u.Speaker]
		if !ok {
			f = &SpeakerFeatures{IsFirstSpeaker: len(a.order) == 0}
			a.features[u.Speaker] = f
			a.order = append(a.order, u.Speaker)
		}
		f.add(u)
		folded++
	}
	return folded
}

// Len is the number of distinct speakers seen in final units.
func (a *Accumulator) Len() int { return len(a.order) }

// Snapshot copies the current counters in first-appearance order.
func (a *Accumulator) Snapshot() Snapshot {
	out := make(Snapshot, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, SpeakerSnapshot{Speaker: id, Features: *a.features[id]})
	}
	return out
}
