// Package history holds the price-series primitives shared by every analysis
// built on stored snapshots or on API price history.
//
// A series is a slice of Points in ascending time order. Values are whatever
// scale the caller uses (0-100 for snapshots, 0-1 for CLOB prices).
package history

import (
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

// Point is one timestamped observation.
type Point struct {
	Time  time.Time
	Value float64
}

// FromSnapshots converts snapshots (already ordered by timestamp) to a series
// of primary-outcome probabilities.
func FromSnapshots(snaps []models.Snapshot) []Point {
	points := make([]Point, len(snaps))
	for i, s := range snaps {
		points[i] = Point{Time: s.Timestamp, Value: s.Probability}
	}
	return points
}

// Sort orders points by time, keeping the relative order of equal timestamps.
func Sort(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
}

// IndexAt returns the index of the latest point at or before t, or -1.
func IndexAt(points []Point, t time.Time) int {
	// first index strictly after t
	i := sort.Search(len(points), func(i int) bool {
		return points[i].Time.After(t)
	})
	return i - 1
}

// ProbabilityAt returns the value of the latest point at or before t.
func ProbabilityAt(points []Point, t time.Time) (Point, bool) {
	i := IndexAt(points, t)
	if i < 0 {
		return Point{}, false
	}
	return points[i], true
}

// ProbabilityBefore returns the value observed days before ts.
func ProbabilityBefore(points []Point, ts time.Time, days int) (Point, bool) {
	return ProbabilityAt(points, ts.AddDate(0, 0, -days))
}

// After returns the points strictly after t.
func After(points []Point, t time.Time) []Point {
	i := IndexAt(points, t)
	return points[i+1:]
}

// Closest returns the point nearest to t within tolerance.
func Closest(points []Point, t time.Time, tolerance time.Duration) (Point, bool) {
	best := -1
	bestDist := time.Duration(math.MaxInt64)
	for i, p := range points {
		d := p.Time.Sub(t)
		if d < 0 {
			d = -d
		}
		if d <= tolerance && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Point{}, false
	}
	return points[best], true
}

// Range returns the minimum and maximum values. ok is false for an empty series.
func Range(points []Point) (lo, hi float64, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	lo, hi = points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	return lo, hi, true
}

// Swing is the absolute spread between the highest and lowest value.
func Swing(points []Point) float64 {
	lo, hi, _ := Range(points)
	return hi - lo
}
