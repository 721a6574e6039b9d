package resolution

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBoundaries are the confidence bucket edges in probability points.
var DefaultBoundaries = []float64{0, 50, 60, 70, 80, 90, 95, 100}

// Label formats the bucket [lo, hi) as "lo-hi%".
func Label(lo, hi float64) string {
	return fmt.Sprintf("%s-%s%%", formatEdge(lo), formatEdge(hi))
}

func formatEdge(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Labels returns the label of every bucket in boundary order.
func Labels(boundaries []float64) []string {
	if len(boundaries) < 2 {
		return nil
	}
	labels := make([]string, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		labels = append(labels, Label(boundaries[i], boundaries[i+1]))
	}
	return labels
}

// Bucket returns the label of the bucket holding p. Buckets are half-open
// except the last, which also holds its upper edge. Values below the first
// edge go to the first bucket and values above the last edge to the last.
func Bucket(boundaries []float64, p float64) string {
	n := len(boundaries)
	if n < 2 {
		return ""
	}
	if p < boundaries[0] {
		return Label(boundaries[0], boundaries[1])
	}
	for i := 0; i+1 < n; i++ {
		if p >= boundaries[i] && p < boundaries[i+1] {
			return Label(boundaries[i], boundaries[i+1])
		}
	}
	return Label(boundaries[n-2], boundaries[n-1])
}

// ValidateBoundaries checks that edges are strictly increasing, span at
// least one bucket and start at or below 0, so no probability falls under
// the first bucket.
func ValidateBoundaries(boundaries []float64) error {
	if len(boundaries) < 2 {
		return fmt.Errorf("at least two bucket boundaries are required")
	}
	if boundaries[0] > 0 {
		return fmt.Errorf("first bucket boundary must be at most 0, got %v", boundaries[0])
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return fmt.Errorf("bucket boundaries must be strictly increasing at index %d", i)
		}
	}
	return nil
}

// IsYesLike reports whether a resolution string names the affirmative side.
func IsYesLike(outcome string) bool {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "yes", "true", "1":
		return true
	}
	return false
}
