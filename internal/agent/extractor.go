package agent

import (
	"strings"

	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// preferenceKeywords are scanned in order; the first one found in the user
// message produces a preference fact.
var preferenceKeywords = []string{"like", "love", "hate", "prefer", "favorite", "dislike"}

// factualIndicators are scanned in order; the first one that yields a usable
// sentence produces a generic fact.
var factualIndicators = []string{"is", "are", "was", "were", "have", "has", "work", "live", "study"}

// minFactSentenceLen is the minimum trimmed sentence length for a sentence
// to qualify as a generic fact.
const minFactSentenceLen = 10

// Extraction is one candidate fact pulled from a user message.
type Extraction struct {
	// Content is the fact text.
	Content string

	// Category routes the fact to a store; see the hybrid orchestrator.
	Category string
}

// ExtractFacts scans a user message for candidate facts using a deliberately
// crude keyword heuristic. Two independent scans run over the lowercased
// message:
//
//   - The first preference keyword found produces one fact of category
//     "preference" with content "User <keyword>: <full message>".
//   - The first factual indicator that appears in a sentence longer than ten
//     characters produces one fact of category "fact" with that sentence's
//     trimmed text.
//
// At most two facts result per message. An empty slice means nothing looked
// worth remembering.
func ExtractFacts(message string) []Extraction {
	lowered := strings.ToLower(message)

	var out []Extraction
	for _, kw := range preferenceKeywords {
		if strings.Contains(lowered, kw) {
			out = append(out, Extraction{
				Content:  "User " + kw + ": " + message,
				Category: memory.CategoryPreference,
			})
			break
		}
	}

	if fact, ok := extractFactSentence(message, lowered); ok {
		out = append(out, Extraction{
			Content:  fact,
			Category: memory.CategoryFact,
		})
	}
	return out
}

// extractFactSentence finds the first factual indicator that appears in a
// long-enough sentence and returns that sentence. Indicators that match the
// message but no individual sentence are skipped in favour of the next one.
func extractFactSentence(message, lowered string) (string, bool) {
	for _, ind := range factualIndicators {
		if !strings.Contains(lowered, ind) {
			continue
		}
		for _, sentence := range strings.Split(message, ".") {
			trimmed := strings.TrimSpace(sentence)
			if len(trimmed) <= minFactSentenceLen {
				continue
			}
			if strings.Contains(strings.ToLower(trimmed), ind) {
				return trimmed, true
			}
		}
	}
	return "", false
}
