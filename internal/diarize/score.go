package diarize

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Feature weights of the role scorer. Each weight multiplies the speaker's share of the
// session total for that feature.
const (
	weightUtterances   = 2.0
	weightWords        = 1.5
	weightQuestions    = 3.0
	weightMedicalTerms = 4.0
	weightCommands     = 2.0
	weightDuration     = 1.0
	firstSpeakerBonus  = 1.0
	numScoredFeatures  = 6
)

var featureWeights = [numScoredFeatures]float64{
	weightUtterances, weightWords, weightQuestions, weightMedicalTerms, weightCommands, weightDuration,
}

func featureVector(f SpeakerFeatures) [numScoredFeatures]float64 {
	return [numScoredFeatures]float64{
		float64(f.UtteranceCount),
		float64(f.WordCount),
		float64(f.QuestionCount),
		float64(f.MedicalTermCount),
		float64(f.CommandPhraseCount),
		float64(f.TotalDurationMs),
	}
}

// Method names how an assignment was produced.
type Method string

const (
	MethodRanking       Method = "ranking"
	MethodVoiceProfile  Method = "voice_profile"
	MethodSingleSpeaker Method = "single_speaker"
)

// Ranked is one speaker's position in an assignment.
type Ranked struct {
	Speaker SpeakerID `json:"speakerId"`
	Score   float64   `json:"score"`
	Role    Role      `json:"role"`
}

// Assignment maps speakers to roles. At most one speaker holds Doctor (or the enrolled
// owner) and at most one holds Patient.
type Assignment struct {
	Method  Method             `json:"method"`
	Roles   map[SpeakerID]Role `json:"roles"`
	Ranking []Ranked           `json:"ranking"`

	// Lead is the role held by the top-ranked speaker: Doctor, or the enrolled owner's name.
	Lead Role `json:"lead"`
}

// Resolve maps a single speaker to its role. See Resolver for how speakers without final
// evidence are placed.
func (a Assignment) Resolve(id SpeakerID) Role {
	return a.Resolver()(id)
}

// Resolver returns a role lookup for one batch. Speakers without final evidence take the
// free lead and Patient slots in order of first lookup, then stay anonymous, so two
// unranked speakers never share a role.
func (a Assignment) Resolver() func(SpeakerID) Role {
	if a.Method == MethodSingleSpeaker {
		return func(SpeakerID) Role { return RoleDoctor }
	}
	lead := a.Lead
	if lead == "" {
		lead = RoleDoctor
	}
	taken := make(map[Role]bool, len(a.Roles))
	for _, r := range a.Roles {
		taken[r] = true
	}
	var free []Role
	for _, r := range []Role{lead, RolePatient} {
		if !taken[r] {
			free = append(free, r)
		}
	}

	provisional := make(map[SpeakerID]Role)
	return func(id SpeakerID) Role {
		if r, ok := a.Roles[id]; ok {
			return r
		}
		if r, ok := provisional[id]; ok {
			return r
		}
		r := SpeakerRole(id)
		if len(free) > 0 {
			r, free = free[0], free[1:]
		}
		provisional[id] = r
		return r
	}
}

// Score ranks speakers by weighted feature shares and assigns Doctor, Patient and
// "Speaker <id>" in rank order. It is a pure function of the snapshot; ties keep the
// snapshot's first-appearance order.
func Score(s Snapshot) Assignment {
	a := Assignment{Method: MethodRanking, Lead: RoleDoctor, Roles: make(map[SpeakerID]Role, len(s))}
	if len(s) == 0 {
		return a
	}

	var columns [numScoredFeatures][]float64
	for _, sp := range s {
		vec := featureVector(sp.Features)
		for k := range columns {
			columns[k] = append(columns[k], vec[k])
		}
	}
	var totals [numScoredFeatures]float64
	for k := range columns {
		totals[k] = floats.Sum(columns[k])
	}

	a.Ranking = make([]Ranked, len(s))
	for i, sp := range s {
		terms := make([]float64, 0, numScoredFeatures+1)
		for k := range columns {
			if totals[k] > 0 {
				terms = append(terms, columns[k][i]/totals[k]*featureWeights[k])
			}
		}
		if sp.Features.IsFirstSpeaker {
			terms = append(terms, firstSpeakerBonus)
		}
		a.Ranking[i] = Ranked{Speaker: sp.Speaker, Score: floats.Sum(terms)}
	}

	sort.SliceStable(a.Ranking, func(i, j int) bool {
		return a.Ranking[i].Score > a.Ranking[j].Score
	})
	for i := range a.Ranking {
		a.Ranking[i].Role = rankRole(i, a.Ranking[i].Speaker)
		a.Roles[a.Ranking[i].Speaker] = a.Ranking[i].Role
	}
	return a
}

func rankRole(rank int, id SpeakerID) Role {
	switch rank {
	case 0:
		return RoleDoctor
	case 1:
		return RolePatient
	default:
		return SpeakerRole(id)
	}
}

// SingleSpeaker resolves every speaker to Doctor, for training and enrollment sessions.
func SingleSpeaker(s Snapshot) Assignment {
	a := Assignment{Method: MethodSingleSpeaker, Lead: RoleDoctor, Roles: make(map[SpeakerID]Role, len(s))}
	for _, sp := range s {
		a.Roles[sp.Speaker] = RoleDoctor
		a.Ranking = append(a.Ranking, Ranked{Speaker: sp.Speaker, Role: RoleDoctor})
	}
	return a
}
