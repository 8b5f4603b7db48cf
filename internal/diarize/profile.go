package diarize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrEmptyOwner        = errors.New("owner name is required")
	ErrReservedOwner     = errors.New("owner name collides with a role label")
	ErrNoReference       = errors.New("reference recording has no usable units")
	ErrReferenceTooShort = errors.New("reference recording is too short")
)

// MinReferenceDuration is the shortest timed reference accepted by Enroll.
const MinReferenceDuration = 10 * time.Second

// Characteristics are the summary statistics of an enrolled speaker.
type Characteristics struct {
	AverageConfidence    float64 `json:"averageConfidence"`
	TotalWords           int     `json:"totalWords"`
	AudioDurationMs      int64   `json:"audioDurationMs"`
	SpeechRate           float64 `json:"speechRate"`
	AvgWordLength        float64 `json:"avgWordLength"`
	VocabularyComplexity float64 `json:"vocabularyComplexity"`
	MedicalTermCount     int     `json:"medicalTermCount"`
	MedicalTermDensity   float64 `json:"medicalTermDensity"`
	QuestionFrequency    float64 `json:"questionFrequency"`
	AvgSentenceLength    float64 `json:"avgSentenceLength"`
}

// VoiceProfile is the persisted reference of one enrolled speaker. It is never modified after
// enrollment.
type VoiceProfile struct {
	ID              string           `json:"id"`
	OwnerName       string           `json:"ownerName"`
	Characteristics *Characteristics `json:"characteristics,omitempty"`
	Fingerprint     string           `json:"fingerprint"`
	Language        string           `json:"language,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Enroll builds a profile from a single-speaker reference recording. Interim units are
// ignored. When the reference carries timings it must span at least minReference.
func Enroll(reference []Unit, ownerName string, minReference time.Duration) (*VoiceProfile, error) {
	ownerName = strings.TrimSpace(ownerName)
	if ownerName == "" {
		return nil, ErrEmptyOwner
	}
	if reservedOwner(ownerName) {
		return nil, fmt.Errorf("%w: %q", ErrReservedOwner, ownerName)
	}

	var (
		units      []Unit
		confidence []float64
		words      []string
		text       []string
		timed      bool
		first      int64
		last       int64
	)
	for _, u := range reference {
		if !u.IsFinal || strings.TrimSpace(u.Text) == "" {
			continue
		}
		units = append(units, u)
		confidence = append(confidence, u.Confidence)
		words = append(words, strings.Fields(u.Text)...)
		text = append(text, u.Text)
		if u.Start.Valid && u.End.Valid {
			if !timed || u.Start.Ms < first {
				first = u.Start.Ms
			}
			if !timed || u.End.Ms > last {
				last = u.End.Ms
			}
			timed = true
		}
	}
	if len(units) == 0 || len(words) == 0 {
		return nil, ErrNoReference
	}

	var durationMs int64
	if timed {
		durationMs = max(last-first, 0)
		if time.Duration(durationMs)*time.Millisecond < minReference {
			return nil, fmt.Errorf("%w: %s < %s", ErrReferenceTooShort,
				time.Duration(durationMs)*time.Millisecond, minReference)
		}
	}

	full := strings.ToLower(strings.Join(text, " "))
	c := &Characteristics{
		AverageConfidence: floats.Sum(confidence) / float64(len(confidence)),
		TotalWords:        len(words),
		AudioDurationMs:   durationMs,
		MedicalTermCount:  medicalTermCount(full),
	}
	if durationMs > 0 {
		c.SpeechRate = float64(len(words)) / (float64(durationMs) / 1000)
	}

	lengths := make([]float64, len(words))
	unique := make(map[string]struct{}, len(words))
	for i, w := range words {
		lengths[i] = float64(len([]rune(w)))
		unique[strings.ToLower(w)] = struct{}{}
	}
	c.AvgWordLength = floats.Sum(lengths) / float64(len(words))
	c.VocabularyComplexity = float64(len(unique)) / float64(len(words))
	c.MedicalTermDensity = float64(c.MedicalTermCount) / float64(len(words))

	questions := 0
	for _, u := range units {
		if isQuestion(strings.ToLower(u.Text)) {
			questions++
		}
	}
	c.QuestionFrequency = float64(questions) / float64(len(units))
	c.AvgSentenceLength = avgSentenceLength(strings.Join(text, " "))

	p := &VoiceProfile{
		OwnerName:       ownerName,
		Characteristics: c,
		Language:        units[0].Language,
		CreatedAt:       time.Now().UTC(),
	}
	p.Fingerprint = fingerprint(ownerName, c)
	return p, nil
}

// EnrollBatch normalizes a reference batch and enrolls it. The reference is a finished
// recording, so the batch counts as final; words explicitly marked non-final are still ignored.
func EnrollBatch(ownerName string, b Batch, minReference time.Duration, log logrus.FieldLogger) (*VoiceProfile, error) {
	b.IsFinal = true
	return Enroll(NewNormalizer(log).Normalize(b), ownerName, minReference)
}

// reservedOwner reports names that would read as Doctor, Patient or an anonymous speaker label.
func reservedOwner(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return lower == "doctor" || lower == "patient" || strings.HasPrefix(lower, "speaker ")
}

func avgSentenceLength(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	var lengths []float64
	for _, s := range sentences {
		if n := len(strings.Fields(s)); n > 0 {
			lengths = append(lengths, float64(n))
		}
	}
	if len(lengths) == 0 {
		return 0
	}
	return floats.Sum(lengths) / float64(len(lengths))
}

func fingerprint(owner string, c *Characteristics) string {
	payload, _ := json.Marshal(struct {
		Name         string  `json:"name"`
		Confidence   float64 `json:"confidence"`
		Words        int     `json:"words"`
		DurationMs   int64   `json:"durationMs"`
		SpeechRate   float64 `json:"speechRate"`
		MedicalTerms int     `json:"medicalTerms"`
	}{owner, c.AverageConfidence, c.TotalWords, c.AudioDurationMs, c.SpeechRate, c.MedicalTermCount})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Match weights.
const (
	matchWeightConfidence = 2.0
	matchWeightMedical    = 4.0
	matchWeightQuestions  = 3.0
	matchMedicalBonus     = 5.0
)

// MatchScore is the similarity of observed features to the profile.
func MatchScore(p *VoiceProfile, f SpeakerFeatures) float64 {
	c := p.Characteristics
	density := f.MedicalTermDensity()
	return floats.Sum([]float64{
		similarity(f.AverageConfidence(), c.AverageConfidence) * matchWeightConfidence,
		similarity(density, c.MedicalTermDensity) * matchWeightMedical,
		similarity(f.QuestionFrequency(), c.QuestionFrequency) * matchWeightQuestions,
		density * matchMedicalBonus,
	})
}

func similarity(observed, reference float64) float64 {
	return 1 - math.Min(math.Abs(observed-reference), 1)
}

// Match assigns the best-matching speaker the profile owner's name and the runner-up Patient.
// Any further speakers stay anonymous. ok is false when the profile has no characteristics,
// in which case callers fall back to Score.
func Match(p *VoiceProfile, s Snapshot) (a Assignment, ok bool) {
	if p == nil || p.Characteristics == nil {
		return Assignment{}, false
	}
	owner := Role(strings.TrimSpace(p.OwnerName))
	if owner == "" || reservedOwner(p.OwnerName) {
		owner = RoleDoctor
	}

	a = Assignment{Method: MethodVoiceProfile, Lead: owner, Roles: make(map[SpeakerID]Role, len(s))}
	a.Ranking = make([]Ranked, len(s))
	for i, sp := range s {
		a.Ranking[i] = Ranked{Speaker: sp.Speaker, Score: MatchScore(p, sp.Features)}
	}
	sort.SliceStable(a.Ranking, func(i, j int) bool {
		return a.Ranking[i].Score > a.Ranking[j].Score
	})
	for i := range a.Ranking {
		switch i {
		case 0:
			a.Ranking[i].Role = owner
		case 1:
			a.Ranking[i].Role = RolePatient
		default:
			a.Ranking[i].Role = SpeakerRole(a.Ranking[i].Speaker)
		}
		a.Roles[a.Ranking[i].Speaker] = a.Ranking[i].Role
	}
	return a, true
}
