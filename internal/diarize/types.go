package diarize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SpeakerID is the opaque speaker key assigned by the upstream recognizer ("A", "1", ...).
// It is only meaningful inside one session.
type SpeakerID string

// UnmarshalJSON accepts both string and numeric speaker tags.
func (s *SpeakerID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SpeakerID(strings.TrimSpace(str))
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("speaker id %s: %w", raw, err)
	}
	*s = SpeakerID(strconv.FormatFloat(num, 'f', -1, 64))
	return nil
}

// Role is the clinical function attributed to a speaker.
type Role string

const (
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
)

// SpeakerRole is the anonymous label for speakers ranked below Doctor and Patient.
func SpeakerRole(id SpeakerID) Role {
	return Role("Speaker " + string(id))
}

// Millis is a nullable millisecond timestamp. Missing provider timings stay invalid
// and encode as JSON null.
type Millis struct {
	Ms    int64
	Valid bool
}

// At returns a valid timestamp.
func At(ms int64) Millis { return Millis{Ms: ms, Valid: true} }

func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(m.Ms, 10)), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*m = Millis{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = At(int64(f))
	return nil
}

// Unit is one normalized token or utterance. Units are never mutated after normalization.
type Unit struct {
	Speaker    SpeakerID `json:"speakerId"`
	Text       string    `json:"text"`
	Start      Millis    `json:"startTimeMs"`
	End        Millis    `json:"endTimeMs"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"isFinal"`
	Language   string    `json:"language,omitempty"`
}

// DurationMs is max(0, end-start), or 0 when either bound is missing.
func (u Unit) DurationMs() int64 {
	if !u.Start.Valid || !u.End.Valid {
		return 0
	}
	if d := u.End.Ms - u.Start.Ms; d > 0 {
		return d
	}
	return 0
}

// Segment is a display unit built from consecutive units with the same role.
type Segment struct {
	Role       Role    `json:"role"`
	Text       string  `json:"text"`
	Start      Millis  `json:"startTimeMs"`
	End        Millis  `json:"endTimeMs"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}
