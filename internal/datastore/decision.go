package datastore

import "fmt"

// Decision is the categorical outcome of one evaluation. Values are totally
// ordered by severity: pass < sampled-pass < regenerate < quarantine < escalate < block.
type Decision string

const (
	DecisionPass        Decision = "pass"
	DecisionSampledPass Decision = "sampled-pass"
	DecisionRegenerate  Decision = "regenerate"
	DecisionQuarantine  Decision = "quarantine"
	DecisionEscalate    Decision = "escalate"
	DecisionBlock       Decision = "block"
)

var decisionSeverity = map[Decision]int{
	DecisionPass:        0,
	DecisionSampledPass: 1,
	DecisionRegenerate:  2,
	DecisionQuarantine:  3,
	DecisionEscalate:    4,
	DecisionBlock:       5,
}

// Severity returns the position of d in the severity order, or -1 if d is unknown.
func (d Decision) Severity() int {
	s, ok := decisionSeverity[d]
	if !ok {
		return -1
	}
	return s
}

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	_, ok := decisionSeverity[d]
	return ok
}

// IsPassing is true for pass and sampled-pass.
func (d Decision) IsPassing() bool {
	return d == DecisionPass || d == DecisionSampledPass
}

// MoreSevere returns whichever of a and b ranks higher.
func MoreSevere(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ParseDecision validates a decision string received at the API boundary.
func ParseDecision(value string) (Decision, error) {
	d := Decision(value)
	if !d.Valid() {
		return "", fmt.Errorf("unknown decision %q", value)
	}
	return d, nil
}
