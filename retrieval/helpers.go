package retrieval

import (
	"math"
	"strings"
)

// cosineSimilarity computes the cosine of the angle between two vectors.
// Zero-norm vectors score 0 rather than NaN.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// ExtractDomain returns the bare host of a URL with any "www." prefix
// stripped. Invalid or schemeless inputs fall through best-effort.
func ExtractDomain(url string) string {
	s := url
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.ToLower(s)
}

// round4 rounds to four decimal places for trace output.
func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// roundPtr rounds an optional score, preserving nil.
func roundPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	r := round4(*f)
	return &r
}
