package diarize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Confidence used when a provider omits it.
const (
	DefaultFinalConfidence   = 0.9
	DefaultInterimConfidence = 0.7
)

// RecordKind discriminates the provider payload shapes.
type RecordKind int

const (
	KindUtterance RecordKind = iota + 1
	KindWord
)

func (k RecordKind) String() string {
	switch k {
	case KindUtterance:
		return "utterance"
	case KindWord:
		return "word"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UtteranceRecord is an utterance-level result (AssemblyAI style). Times are milliseconds.
type UtteranceRecord struct {
	Speaker    SpeakerID `json:"speaker"`
	Text       string    `json:"text"`
	Start      Millis    `json:"start"`
	End        Millis    `json:"end"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// WordRecord is a word-level result (Google style). Times are seconds.
type WordRecord struct {
	Word       string    `json:"word"`
	SpeakerTag SpeakerID `json:"speakerTag"`
	StartTime  Seconds   `json:"startTime"`
	EndTime    Seconds   `json:"endTime"`
	Confidence *float64  `json:"confidence,omitempty"`
	// IsFinal overrides the batch flag for token streams that mix final and non-final tokens.
	IsFinal *bool `json:"isFinal,omitempty"`
}

// Record is a tagged union over the provider shapes. Exactly one of Utterance or Word is set,
// matching Kind. Err marks a record that could not be decoded; the normalizer drops it.
type Record struct {
	Kind      RecordKind
	Utterance *UtteranceRecord
	Word      *WordRecord
	Err       error
}

func UtteranceOf(u UtteranceRecord) Record { return Record{Kind: KindUtterance, Utterance: &u} }
func WordOf(w WordRecord) Record { return Record{Kind: KindWord, Word: &w} }

// Batch is one delivery from the transcription source.
type Batch struct {
	IsFinal  bool
	Language string
	Records  []Record
}

// Seconds is a nullable provider time in seconds. It decodes JSON numbers, duration
// strings such as "1.500s" and {seconds, nanos} objects.
type Seconds struct {
	Value float64
	Valid bool
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*s = Seconds{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*s = Seconds{}
			return nil
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("seconds %q: %w", str, err)
		}
		*s = Seconds{Value: d.Seconds(), Valid: true}
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		var d struct {
			Seconds json.Number `json:"seconds"`
			Nanos   json.Number `json:"nanos"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		sec, err := numberOrZero(d.Seconds)
		if err != nil {
			return fmt.Errorf("seconds: %w", err)
		}
		nanos, err := numberOrZero(d.Nanos)
		if err != nil {
			return fmt.Errorf("nanos: %w", err)
		}
		*s = Seconds{Value: sec + nanos/1e9, Valid: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Seconds{Value: f, Valid: true}
	return nil
}

func numberOrZero(n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	return n.Float64()
}

func (s Seconds) millis() Millis {
	if !s.Valid {
		return Millis{}
	}
	return At(int64(math.Round(s.Value * 1000)))
}

// Normalizer converts provider records into Units.
type Normalizer struct {
	log logrus.FieldLogger
}

func NewNormalizer(log logrus.FieldLogger) *Normalizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Normalizer{log: log}
}

// Normalize converts a batch into units, dropping malformed records with a warning.
func (n *Normalizer) Normalize(b Batch) []Unit {
	units := make([]Unit, 0, len(b.Records))
	for i, rec := range b.Records {
		u, err := n.unit(rec, b)
		if err != nil {
			n.log.WithFields(logrus.Fields{"index": i, "kind": rec.Kind}).Warnf("Dropping malformed record: %v", err)
			continue
		}
		units = append(units, u)
	}
	return units
}

func (n *Normalizer) unit(rec Record, b Batch) (Unit, error) {
	var u Unit
	var conf *float64
	if rec.Err != nil {
		return u, rec.Err
	}
	switch rec.Kind {
	case KindUtterance:
		if rec.Utterance == nil {
			return u, fmt.Errorf("utterance record without payload")
		}
		r := rec.Utterance
		u = Unit{Speaker: r.Speaker, Text: r.Text, Start: r.Start, End: r.End, IsFinal: b.IsFinal}
		conf = r.Confidence
	case KindWord:
		if rec.Word == nil {
			return u, fmt.Errorf("word record without payload")
		}
		r := rec.Word
		u = Unit{Speaker: r.SpeakerTag, Text: r.Word, Start: r.StartTime.millis(), End: r.EndTime.millis(), IsFinal: b.IsFinal}
		if r.IsFinal != nil {
			u.IsFinal = *r.IsFinal
		}
		conf = r.Confidence
	default:
		return u, fmt.Errorf("unknown record kind %s", rec.Kind)
	}

	u.Speaker = SpeakerID(strings.TrimSpace(string(u.Speaker)))
	u.Text = strings.TrimSpace(u.Text)
	if u.Speaker == "" {
		return u, fmt.Errorf("missing speaker")
	}
	if u.Text == "" {
		return u, fmt.Errorf("missing text")
	}

	switch {
	case conf != nil:
		u.Confidence = clamp01(*conf)
	case u.IsFinal:
		u.Confidence = DefaultFinalConfidence
	default:
		u.Confidence = DefaultInterimConfidence
	}
	u.Language = b.Language
	return u, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// WireBatch is the JSON envelope used by ingest frames and replay files.
type WireBatch struct {
	Type             string            `json:"type,omitempty"`
	IsFinal          bool              `json:"isFinal"`
	LanguageCode     string            `json:"languageCode,omitempty"`
	SpeakersExpected int               `json:"speakersExpected,omitempty"`
	ProfileID        string            `json:"profileId,omitempty"`
	Utterances       []UtteranceRecord `json:"utterances,omitempty"`
	Words            []WordRecord      `json:"words,omitempty"`

	// rejected holds records that failed to decode, kept so they count as dropped.
	rejected []Record
}

// UnmarshalJSON decodes utterances and words one at a time. A record with a malformed field
// is kept as a rejected record instead of failing the whole envelope.
func (w *WireBatch) UnmarshalJSON(data []byte) error {
	type envelope WireBatch
	var raw struct {
		envelope
		Utterances []json.RawMessage `json:"utterances"`
		Words      []json.RawMessage `json:"words"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*w = WireBatch(raw.envelope)
	w.Utterances, w.Words, w.rejected = nil, nil, nil
	for i, msg := range raw.Utterances {
		var u UtteranceRecord
		if err := json.Unmarshal(msg, &u); err != nil {
			w.rejected = append(w.rejected, Record{Kind: KindUtterance, Err: fmt.Errorf("utterance %d: %w", i, err)})
			continue
		}
		w.Utterances = append(w.Utterances, u)
	}
	for i, msg := range raw.Words {
		var wd WordRecord
		if err := json.Unmarshal(msg, &wd); err != nil {
			w.rejected = append(w.rejected, Record{Kind: KindWord, Err: fmt.Errorf("word %d: %w", i, err)})
			continue
		}
		w.Words = append(w.Words, wd)
	}
	return nil
}

// Batch flattens the envelope into a tagged-union batch, utterances first. Records that
// failed to decode come last.
func (w WireBatch) Batch() Batch {
	b := Batch{IsFinal: w.IsFinal, Language: w.LanguageCode}
	b.Records = make([]Record, 0, len(w.Utterances)+len(w.Words)+len(w.rejected))
	for _, u := range w.Utterances {
		b.Records = append(b.Records, UtteranceOf(u))
	}
	for _, wd := range w.Words {
		b.Records = append(b.Records, WordOf(wd))
	}
	b.Records = append(b.Records, w.rejected...)
	return b
}

// DecodeBatch parses a JSON ingest frame.
func DecodeBatch(data []byte) (WireBatch, error) {
	var w WireBatch
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("decode batch: %w", err)
	}
	return w, nil
}
