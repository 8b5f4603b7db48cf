package diarize

import "strings"

var questionLeads = []string{
	"what", "when", "where", "how", "why", "who", "which",
	"can you", "do you", "have you", "are you",
}

var medicalTerms = []string{
	"fever", "diagnose", "diagnosis", "prescription", "medication", "treatment",
	"examine", "symptoms", "condition", "blood pressure", "temperature",
	"pulse", "heart rate", "mg", "dosage", "chronic", "acute", "prescribe",
	"follow up", "recommend", "suggest", "test", "lab", "results",
}

var commandPhrases = []string{
	"let me", "i need to", "i want to", "i'm going to", "we should",
	"you need to", "you should", "take this", "come back", "schedule",
}

// isQuestion is evaluated once per unit: a '?' anywhere or any interrogative lead as a substring.
func isQuestion(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	for _, q := range questionLeads {
		if strings.Contains(lower, q) {
			return true
		}
	}
	return false
}

// countTerms counts lexicon entries that occur as substrings. Each entry counts at most once.
func countTerms(lower string, lexicon []string) int {
	n := 0
	for _, term := range lexicon {
		if strings.Contains(lower, term) {
			n++
		}
	}
	return n
}

func medicalTermCount(lower string) int { return countTerms(lower, medicalTerms) }

func commandPhraseCount(lower string) int { return countTerms(lower, commandPhrases) }

func wordCount(text string) int { return len(strings.Fields(text)) }
