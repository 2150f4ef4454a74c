package risk

import "math"

// ComparisonStatus describes how a team estimate relates to the model prediction.
type ComparisonStatus string

const (
	SevereOverestimate  ComparisonStatus = "severe-overestimate"
	MildOverestimate    ComparisonStatus = "mild-overestimate"
	SlightOverestimate  ComparisonStatus = "slight-overestimate"
	Accurate            ComparisonStatus = "accurate"
	SlightUnderestimate ComparisonStatus = "slight-underestimate"
	MildUnderestimate   ComparisonStatus = "mild-underestimate"
	SevereUnderestimate ComparisonStatus = "severe-underestimate"
)

// Level is the risk tier derived from the size of the gap.
type Level string

const (
	High   Level = "high"
	Medium Level = "medium"
	Low    Level = "low"
)

// Tier thresholds on |teamEstimate - storyPoint|.
const (
	severeAbove = 5.0
	mildFrom    = 3.0
)

// Assessment holds the derived risk fields of a story. The three fields are
// always written together.
type Assessment struct {
	Difference       float64          `json:"difference"`
	ComparisonStatus ComparisonStatus `json:"comparisonStatus"`
	RiskLevel        Level            `json:"riskLevel"`
}

// Classify compares a team estimate with the model's story point.
// Difference is teamEstimate - storyPoint, positive meaning the team estimated more.
func Classify(storyPoint, teamEstimate float64) Assessment {
	diff := teamEstimate - storyPoint
	abs := math.Abs(diff)
	over := diff > 0

	switch {
	case abs > severeAbove:
		return Assessment{Difference: diff, ComparisonStatus: pick(over, SevereOverestimate, SevereUnderestimate), RiskLevel: High}
	case abs >= mildFrom:
		return Assessment{Difference: diff, ComparisonStatus: pick(over, MildOverestimate, MildUnderestimate), RiskLevel: Medium}
	case abs > 0:
		return Assessment{Difference: diff, ComparisonStatus: pick(over, SlightOverestimate, SlightUnderestimate), RiskLevel: Low}
	default:
		// NaN falls through here as well; callers reject non-finite estimates first.
		return Assessment{Difference: diff, ComparisonStatus: Accurate, RiskLevel: Low}
	}
}

func pick(over bool, a, b ComparisonStatus) ComparisonStatus {
	if over {
		return a
	}
	return b
}

// Valid reports whether s is a known status.
func (s ComparisonStatus) Valid() bool {
	switch s {
	case SevereOverestimate, MildOverestimate, SlightOverestimate, Accurate,
		SlightUnderestimate, MildUnderestimate, SevereUnderestimate:
		return true
	default:
		return false
	}
}

// Valid reports whether l is a known risk level.
func (l Level) Valid() bool {
	switch l {
	case High, Medium, Low:
		return true
	default:
		return false
	}
}

// ParseComparisonStatus returns the status for s, or false when unknown.
func ParseComparisonStatus(s string) (ComparisonStatus, bool) {
	cs := ComparisonStatus(s)
	return cs, cs.Valid()
}

// ParseLevel returns the level for s, or false when unknown.
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	return l, l.Valid()
}

// Assemble rebuilds an assessment from separately stored columns. It returns
// nil unless all three parts are present and well formed.
func Assemble(diff *float64, status, level string) *Assessment {
	if diff == nil {
		return nil
	}
	cs, ok := ParseComparisonStatus(status)
	if !ok {
		return nil
	}
	lv, ok := ParseLevel(level)
	if !ok {
		return nil
	}
	return &Assessment{Difference: *diff, ComparisonStatus: cs, RiskLevel: lv}
}
