package llm

import (
	"regexp"
	"strings"
)

// fallbackLineRe matches one bracketed list item in free-text model
// output, e.g. "- [NAME] John Smith" or "1. [DATE]: 2024-01-15".
var fallbackLineRe = regexp.MustCompile(`\[([A-Za-z][A-Za-z0-9_ ]*)\]\s*[::]?\s*(.+)`)

// parseFreeText is the secondary parse used when schema validation
// fails: a best-effort scan for a bracketed list in the raw output.
// Returns false when no list items can be recovered.
func parseFreeText(raw string) ([]schemaEntity, bool) {
	var entities []schemaEntity

	for _, line := range strings.Split(raw, "\n") {
		m := fallbackLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		text := strings.TrimSpace(m[2])
		text = strings.TrimRight(text, ".,;")
		// A trailing parenthetical is the model's reason, not the span
		reason := ""
		if open := strings.LastIndex(text, "("); open > 0 && strings.HasSuffix(text, ")") {
			reason = strings.TrimSpace(text[open+1 : len(text)-1])
			text = strings.TrimSpace(text[:open])
		}
		if text == "" {
			continue
		}

		entities = append(entities, schemaEntity{
			EntityText: text,
			Type:       strings.TrimSpace(m[1]),
			LocalStart: -1,
			Reason:     reason,
		})
	}

	if len(entities) == 0 {
		return nil, false
	}
	return entities, true
}
