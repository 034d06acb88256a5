package hybrid

import (
	"strings"

	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// maxRenderedFacts caps the factual bullets in the combined context so a
// user with many stored memories does not crowd the temporal summary out of
// the prompt window.
const maxRenderedFacts = 3

// FormatCombined renders the combined context string injected into the LLM
// prompt: the temporal session summary followed by up to [maxRenderedFacts]
// of the relevant factual memories, in the order given.
//
// The formatter is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use.
//
// Empty sections (no session summary, no facts) are omitted entirely rather
// than rendering as empty headers; when both are empty the result is the
// empty string.
func FormatCombined(temporalContext string, facts []memory.Fact) string {
	var sections []string

	if tc := strings.TrimSpace(temporalContext); tc != "" {
		sections = append(sections, "Recent Context: "+tc)
	}

	if len(facts) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant Facts:")
		rendered := 0
		for _, f := range facts {
			if rendered == maxRenderedFacts {
				break
			}
			content := strings.TrimSpace(f.Content)
			if content == "" {
				continue
			}
			sb.WriteString("\n- ")
			sb.WriteString(content)
			rendered++
		}
		if section := sb.String(); section != "Relevant Facts:" {
			sections = append(sections, section)
		}
	}

	return strings.Join(sections, "\n\n")
}
