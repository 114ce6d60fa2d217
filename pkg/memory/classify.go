package memory

import (
	"sort"
	"strings"
)

// classifierRules maps trigger keywords to an entry type. Order matters:
// the first rule with a hit wins, so the more specific kinds come first.
var classifierRules = []struct {
	kind     EntryType
	keywords []string
}{
	{TypeInstruction, []string{"always", "never", "make sure", "from now on", "must"}},
	{TypePreference, []string{"prefer", "like", "favorite", "rather", "instead of"}},
	{TypeDecision, []string{"decided", "decision", "chose", "we will", "agreed"}},
	{TypeFeedback, []string{"wrong", "incorrect", "good answer", "helpful", "not what"}},
	{TypeExplanation, []string{"because", "explain", "how does", "why does", "works by"}},
	{TypeInsight, []string{"realized", "noticed", "pattern", "interesting", "turns out"}},
	{TypeFact, []string{"is a", "is the", "are the", "was born", "located", "equals"}},
}

// classify assigns one of the eight entry types from the text of the
// exchange. Anything that matches no rule is plain conversation.
func classify(query, response string) EntryType {
	text := strings.ToLower(query + " " + response)

	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.kind
			}
		}
	}

	return TypeConversation
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "she": {}, "so": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "will": {}, "with": {}, "would": {}, "you": {},
	"your": {},
}

const maxAutoTags = 8

// tokenize lowercases and splits the text into candidate terms with
// stop-words and short fragments removed.
func tokenize(text string) map[string]struct{} {
	terms := make(map[string]struct{})

	for _, raw := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		if len(raw) < 3 {
			continue
		}
		if _, stop := stopWords[raw]; stop {
			continue
		}
		terms[raw] = struct{}{}
	}

	return terms
}

// extractTags derives a small, deterministic tag set from the exchange
// text by frequency, ties broken alphabetically.
func extractTags(query, response string) []string {
	counts := make(map[string]int)

	for _, raw := range strings.FieldsFunc(strings.ToLower(query+" "+response), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		if len(raw) < 3 {
			continue
		}
		if _, stop := stopWords[raw]; stop {
			continue
		}
		counts[raw]++
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}

	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if len(tags) > maxAutoTags {
		tags = tags[:maxAutoTags]
	}

	return tags
}

// unionTags merges two tag sets preserving first-seen order.
func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, tag := range append(append([]string{}, a...), b...) {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	return out
}
