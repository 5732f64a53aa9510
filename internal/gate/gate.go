// Package gate implements the quality gate: the single policy decision in
// the research workflow. It is a pure function over values the coordinator
// reads from the task record, isolated here so the loop/finalize policy can
// be tested independently of any I/O.
package gate

// Decision is the outcome of a quality gate evaluation.
type Decision string

const (
	// Continue means the coordinator should run another research cycle.
	Continue Decision = "continue"

	// Finalize means the coordinator should proceed to report generation.
	Finalize Decision = "finalize"
)

// Defaults for the gate thresholds. Overridable via configuration.
const (
	DefaultQualityThreshold = 0.8
	DefaultFindingsCap      = 10
)

// Gate holds the configured thresholds.
type Gate struct {
	// QualityThreshold finalizes once the analysis quality score reaches it.
	QualityThreshold float64

	// FindingsCap finalizes once this many key findings have accumulated.
	FindingsCap int
}

// New creates a gate with the given thresholds. Zero values fall back to
// the defaults.
func New(qualityThreshold float64, findingsCap int) Gate {
	if qualityThreshold == 0 {
		qualityThreshold = DefaultQualityThreshold
	}
	if findingsCap == 0 {
		findingsCap = DefaultFindingsCap
	}
	return Gate{
		QualityThreshold: qualityThreshold,
		FindingsCap:      findingsCap,
	}
}

// Decide returns whether the workflow should run another cycle or finalize,
// along with the reason for a finalize decision (empty on continue).
//
// Finalize when any hard limit is reached:
//   - the quality score meets the threshold
//   - the iteration count reached the caller's max
//   - enough findings have accumulated
func (g Gate) Decide(iteration int, qualityScore float64, findingsCount, maxIterations int) (Decision, string) {
	switch {
	case qualityScore >= g.QualityThreshold:
		return Finalize, "quality threshold reached"
	case iteration >= maxIterations:
		return Finalize, "max iterations reached"
	case findingsCount >= g.FindingsCap:
		return Finalize, "findings cap reached"
	default:
		return Continue, ""
	}
}
