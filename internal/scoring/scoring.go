// Package scoring maps a predicted grade and the actual grade to accuracy points.
package scoring

import "math"

const (
	// MinGrade is the lowest grade on the Swiss scale.
	MinGrade = 1.0
	// MaxGrade is the highest grade on the Swiss scale.
	MaxGrade = 6.0
	// MaxPoints is awarded for an exact prediction.
	MaxPoints = 5
)

// ladder is evaluated in order; the first threshold the difference fits under wins.
var ladder = []struct {
	maxDiff float64
	points  int
}{
	{0.25, 4},
	{0.5, 3},
	{0.75, 2},
	{1.0, 1},
}

// Points returns the accuracy points for a prediction against the actual grade.
// It returns nil when either value is missing: scoring is deferred, not zero.
func Points(predicted, actual *float64) *int {
	if predicted == nil || actual == nil {
		return nil
	}
	p := points(math.Abs(*predicted - *actual))
	return &p
}

func points(diff float64) int {
	if diff == 0 {
		return MaxPoints
	}
	for _, step := range ladder {
		if diff <= step.maxDiff {
			return step.points
		}
	}
	return 0
}

// ValidGrade reports whether v lies on the grading scale, bounds included.
func ValidGrade(v float64) bool {
	return v >= MinGrade && v <= MaxGrade
}

// ValidPoints reports whether p is a possible accuracy score.
func ValidPoints(p int) bool {
	return p >= 0 && p <= MaxPoints
}
