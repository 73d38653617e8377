package delays

import "math"

const (
	// DelayedThreshold is the first delay, in seconds, shown as delayed.
	DelayedThreshold = 180
	// OnTimeTolerance is the largest delay, in seconds, still shown as on time.
	OnTimeTolerance = 30
)

type Severity string

const (
	SeverityOnTime     Severity = "on-time"
	SeverityBorderline Severity = "borderline"
	SeverityDelayed    Severity = "delayed"
)

// Classification is the display status of a delay.
type Classification struct {
	Severity Severity `json:"severity"`
	Label    string   `json:"label"`
	Color    string   `json:"color"`
}

// Classify maps a delay in seconds to its display status.
func Classify(delaySeconds int) Classification {
	switch {
	case delaySeconds >= DelayedThreshold:
		return Classification{Severity: SeverityDelayed, Label: "Delayed", Color: "red"}
	case delaySeconds > OnTimeTolerance:
		return Classification{Severity: SeverityBorderline, Label: "Technically on time", Color: "orange"}
	default:
		return Classification{Severity: SeverityOnTime, Label: "On time", Color: "green"}
	}
}

// Minutes converts a delay to whole minutes, rounding halves away from zero
// (90s is 2 min, -90s is -2 min).
func Minutes(delaySeconds int) int {
	return int(math.Round(float64(delaySeconds) / 60))
}

// DeltaMinutes is the change in displayed minutes from the previous stop.
func DeltaMinutes(currentSeconds, previousSeconds int) int {
	return Minutes(currentSeconds) - Minutes(previousSeconds)
}

// DeltaTone tells the presentation layer how to emphasise a delta.
type DeltaTone string

const (
	DeltaNone    DeltaTone = "none"    // first stop of a range, no delta shown
	DeltaNeutral DeltaTone = "neutral" // unchanged
	DeltaInverse DeltaTone = "inverse" // growth is bad, shrinkage is good
)

func toneFor(delta int) DeltaTone {
	if delta == 0 {
		return DeltaNeutral
	}
	return DeltaInverse
}
