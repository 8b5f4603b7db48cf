package diarize

import (
	"errors"
	"testing"
	"time"
)

func TestMatch_CloserDensityGetsOwnerName(t *testing.T) {
	profile := &VoiceProfile{
		OwnerName: "Dr. Rahman",
		Characteristics: &Characteristics{
			AverageConfidence:  0.9,
			MedicalTermDensity: 0.15,
		},
	}
	snap := Snapshot{
		{Speaker: "A", Features: SpeakerFeatures{UtteranceCount: 1, WordCount: 50, MedicalTermCount: 1, ConfidenceSum: 0.9, IsFirstSpeaker: true}},
		{Speaker: "B", Features: SpeakerFeatures{UtteranceCount: 1, WordCount: 50, MedicalTermCount: 9, ConfidenceSum: 0.9}},
	}

	a, ok := Match(profile, snap)
	if !ok {
		t.Fatal("Match reported a fallback for a complete profile")
	}
	if a.Roles["B"] != "Dr. Rahman" {
		t.Errorf("B = %q, want Dr. Rahman", a.Roles["B"])
	}
	if a.Roles["A"] != RolePatient {
		t.Errorf("A = %q, want Patient", a.Roles["A"])
	}
	if a.Method != MethodVoiceProfile {
		t.Errorf("method = %q", a.Method)
	}
}

func TestMatch_ReservedOwnerBecomesDoctor(t *testing.T) {
	profile := &VoiceProfile{OwnerName: "Patient", Characteristics: &Characteristics{AverageConfidence: 0.9}}
	snap := Snapshot{
		{Speaker: "A", Features: SpeakerFeatures{UtteranceCount: 1, WordCount: 5, ConfidenceSum: 0.9}},
		{Speaker: "B", Features: SpeakerFeatures{UtteranceCount: 1, WordCount: 5, ConfidenceSum: 0.2}},
	}

	a, ok := Match(profile, snap)
	if !ok {
		t.Fatal("Match reported a fallback")
	}
	if a.Roles["A"] != RoleDoctor || a.Roles["B"] != RolePatient {
		t.Errorf("roles = %v", a.Roles)
	}
}

func TestMatch_MissingCharacteristicsFallsBack(t *testing.T) {
	if _, ok := Match(&VoiceProfile{OwnerName: "X"}, Snapshot{{Speaker: "A"}}); ok {
		t.Error("expected fallback for profile without characteristics")
	}
	if _, ok := Match(nil, nil); ok {
		t.Error("expected fallback for nil profile")
	}
}

func TestMatchScore_Formula(t *testing.T) {
	p := &VoiceProfile{Characteristics: &Characteristics{AverageConfidence: 0.8, MedicalTermDensity: 0.1, QuestionFrequency: 0.5}}
	f := SpeakerFeatures{UtteranceCount: 2, WordCount: 20, QuestionCount: 1, MedicalTermCount: 2, ConfidenceSum: 1.6}

	// every feature matches exactly: 2 + 4 + 3 + 0.1*5
	if got, want := MatchScore(p, f), 9.5; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("MatchScore = %v, want %v", got, want)
	}
}

func timedUnit(speaker SpeakerID, text string, start, end int64) Unit {
	return Unit{Speaker: speaker, Text: text, Start: At(start), End: At(end), Confidence: 0.9, IsFinal: true}
}

func TestEnroll_Characteristics(t *testing.T) {
	ref := []Unit{
		timedUnit("A", "Hello, I am the doctor.", 0, 4000),
		timedUnit("A", "What symptoms do you have today?", 4000, 8000),
		timedUnit("A", "Take this medication twice daily.", 8000, 12000),
	}

	p, err := Enroll(ref, "  Dr. Smith ", MinReferenceDuration)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if p.OwnerName != "Dr. Smith" {
		t.Errorf("owner = %q", p.OwnerName)
	}
	c := p.Characteristics
	if c.TotalWords != 16 {
		t.Errorf("TotalWords = %d, want 16", c.TotalWords)
	}
	if c.AudioDurationMs != 12000 {
		t.Errorf("AudioDurationMs = %d, want 12000", c.AudioDurationMs)
	}
	if c.MedicalTermCount != 2 {
		t.Errorf("MedicalTermCount = %d, want 2 (symptoms, medication)", c.MedicalTermCount)
	}
	if c.QuestionFrequency < 0.33 || c.QuestionFrequency > 0.34 {
		t.Errorf("QuestionFrequency = %v, want 1/3", c.QuestionFrequency)
	}
	if len(p.Fingerprint) != 64 {
		t.Errorf("fingerprint %q is not a sha256 hex digest", p.Fingerprint)
	}

	again, err := Enroll(ref, "Dr. Smith", MinReferenceDuration)
	if err != nil {
		t.Fatalf("Enroll again: %v", err)
	}
	if again.Fingerprint != p.Fingerprint {
		t.Error("fingerprint is not stable for identical references")
	}
}

func TestEnroll_Errors(t *testing.T) {
	tests := []struct {
		name  string
		ref   []Unit
		owner string
		want  error
	}{
		{"empty owner", []Unit{timedUnit("A", "hello there", 0, 20000)}, " ", ErrEmptyOwner},
		{"no units", nil, "Dr. A", ErrNoReference},
		{"interim only", []Unit{{Speaker: "A", Text: "hello"}}, "Dr. A", ErrNoReference},
		{"too short", []Unit{timedUnit("A", "hello there", 0, 3000)}, "Dr. A", ErrReferenceTooShort},
		{"owner named patient", []Unit{timedUnit("A", "hello there", 0, 20000)}, "patient", ErrReservedOwner},
		{"owner named doctor", []Unit{timedUnit("A", "hello there", 0, 20000)}, " Doctor ", ErrReservedOwner},
		{"owner named like a speaker label", []Unit{timedUnit("A", "hello there", 0, 20000)}, "Speaker B", ErrReservedOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Enroll(tt.ref, tt.owner, 10*time.Second)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnroll_UntimedReferenceSkipsDurationCheck(t *testing.T) {
	ref := []Unit{{Speaker: "A", Text: "let me examine you", IsFinal: true, Confidence: 0.8}}
	p, err := Enroll(ref, "Dr. A", MinReferenceDuration)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if p.Characteristics.SpeechRate != 0 {
		t.Errorf("SpeechRate = %v, want 0 without timing", p.Characteristics.SpeechRate)
	}
}
