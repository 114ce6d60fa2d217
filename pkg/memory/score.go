package memory

import (
	"math"
	"strings"
	"time"
)

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordOverlap is the fraction of query terms that appear in the text.
func keywordOverlap(query, text string) float64 {
	terms := tokenize(query)
	if len(terms) == 0 {
		return 0
	}

	haystack := strings.ToLower(text)
	hits := 0

	for term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}

	return float64(hits) / float64(len(terms))
}

// hybridScore blends vector similarity with keyword match ratio.
func hybridScore(vectorScore, keywordScore, keywordWeight float64) float64 {
	if keywordWeight <= 0 || keywordWeight >= 1 {
		keywordWeight = 0.3
	}
	return vectorScore*(1-keywordWeight) + keywordScore*keywordWeight
}

const (
	// Half-life of the recency component used by retrieval rerank
	// and cleanup decay.
	recencyHalfLife = 7 * 24 * time.Hour

	shortContentChars = 32
	longContentChars  = 4000
)

// recencyFactor decays from 1 toward 0 as the timestamp ages.
func recencyFactor(t, now time.Time) float64 {
	if t.IsZero() || !t.Before(now) {
		return 1
	}
	age := now.Sub(t)
	return math.Pow(0.5, float64(age)/float64(recencyHalfLife))
}

// engagementBoost grows with access count but saturates quickly so a
// handful of hot memories cannot drown everything else.
func engagementBoost(accessCount int) float64 {
	return math.Log1p(float64(accessCount)) / 10
}

// lengthPenalty punishes entries too short to carry signal and walls of
// text too long to inject into a prompt.
func lengthPenalty(content string) float64 {
	n := len(content)
	switch {
	case n < shortContentChars:
		return 0.15
	case n > longContentChars:
		return 0.1
	default:
		return 0
	}
}

// rerankScore is the secondary score applied to retrieval candidates
// after vector (or hybrid) search.
func rerankScore(primary float64, entry Entry, now time.Time) float64 {
	score := primary
	score += 0.15 * recencyFactor(entry.LastAccessed, now)
	score += engagementBoost(entry.AccessCount)
	score -= lengthPenalty(entry.Content())
	return score
}

// typeUtility estimates how useful a memory kind tends to be for
// future personalization.
func typeUtility(t EntryType) float64 {
	switch t {
	case TypePreference, TypeInstruction:
		return 0.9
	case TypeDecision, TypeFact:
		return 0.7
	case TypeInsight, TypeExplanation:
		return 0.6
	case TypeFeedback:
		return 0.5
	default: // conversation
		return 0.3
	}
}

// autoImportance derives an initial importance score from estimated
// future utility and content length. New entries are maximally recent,
// so the recency component contributes its full weight.
func autoImportance(entry Entry) float64 {
	length := len(entry.Content())

	lengthFactor := float64(length) / float64(longContentChars)
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	score := 0.25 + 0.5*typeUtility(entry.Type) + 0.25*lengthFactor

	return clamp01(score)
}

// applyFeedback moves importance toward the feedback direction.
// Positive feedback closes a fraction of the remaining headroom;
// negative feedback scales the score down. Either way the result stays
// inside [0,1].
func applyFeedback(importance, feedback float64) float64 {
	if feedback > 1 {
		feedback = 1
	}
	if feedback < -1 {
		feedback = -1
	}

	if feedback >= 0 {
		importance += (1 - importance) * feedback * 0.5
	} else {
		importance *= 1 + feedback*0.5
	}

	return clamp01(importance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
