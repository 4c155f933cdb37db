package decisionengine

import (
	"fmt"
	"strings"

	"canonsafe-governance/backend/internal/appconfig"
	"canonsafe-governance/backend/internal/datastore"
)

// Policy is the operator-tunable mapping from aggregate score and flags to a
// Decision, plus the review-routing knobs.
type Policy struct {
	PassThreshold         float64  `json:"pass_threshold"`
	RegenerateThreshold   float64  `json:"regenerate_threshold"`
	QuarantineThreshold   float64  `json:"quarantine_threshold"`
	CriticalFlags         []string `json:"critical_flags"`
	HighSeverityFlags     []string `json:"high_severity_flags"`
	SampleRate            float64  `json:"sample_rate"`
	DisagreementThreshold float64  `json:"disagreement_threshold"`
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		PassThreshold:         90,
		RegenerateThreshold:   70,
		QuarantineThreshold:   50,
		CriticalFlags:         []string{"csam", "self_harm_instructions", "performer_consent_violation"},
		HighSeverityFlags:     []string{"canon_violation", "legal_risk", "brand_safety"},
		SampleRate:            0.05,
		DisagreementThreshold: 30,
	}
}

// PolicyFromConfig converts the env-loaded policy.
func PolicyFromConfig(c appconfig.PolicyConfig) Policy {
	return Policy{
		PassThreshold:         c.PassThreshold,
		RegenerateThreshold:   c.RegenerateThreshold,
		QuarantineThreshold:   c.QuarantineThreshold,
		CriticalFlags:         normalizeList(c.CriticalFlags),
		HighSeverityFlags:     normalizeList(c.HighSeverityFlags),
		SampleRate:            c.SampleRate,
		DisagreementThreshold: c.DisagreementThreshold,
	}
}

// PolicyOverride replaces individual policy fields; nil fields keep the base value.
type PolicyOverride struct {
	PassThreshold         *float64 `json:"pass_threshold,omitempty"`
	RegenerateThreshold   *float64 `json:"regenerate_threshold,omitempty"`
	QuarantineThreshold   *float64 `json:"quarantine_threshold,omitempty"`
	CriticalFlags         []string `json:"critical_flags,omitempty"`
	HighSeverityFlags     []string `json:"high_severity_flags,omitempty"`
	SampleRate            *float64 `json:"sample_rate,omitempty"`
	DisagreementThreshold *float64 `json:"disagreement_threshold,omitempty"`
}

// Apply returns p with o's non-nil fields substituted.
func (p Policy) Apply(o *PolicyOverride) Policy {
	if o == nil {
		return p
	}
	if o.PassThreshold != nil {
		p.PassThreshold = *o.PassThreshold
	}
	if o.RegenerateThreshold != nil {
		p.RegenerateThreshold = *o.RegenerateThreshold
	}
	if o.QuarantineThreshold != nil {
		p.QuarantineThreshold = *o.QuarantineThreshold
	}
	if o.CriticalFlags != nil {
		p.CriticalFlags = normalizeList(o.CriticalFlags)
	}
	if o.HighSeverityFlags != nil {
		p.HighSeverityFlags = normalizeList(o.HighSeverityFlags)
	}
	if o.SampleRate != nil {
		p.SampleRate = *o.SampleRate
	}
	if o.DisagreementThreshold != nil {
		p.DisagreementThreshold = *o.DisagreementThreshold
	}
	return p
}

// Validate checks band ordering and ranges.
func (p Policy) Validate() error {
	if !(p.PassThreshold >= p.RegenerateThreshold && p.RegenerateThreshold >= p.QuarantineThreshold) {
		return fmt.Errorf("thresholds must satisfy pass >= regenerate >= quarantine")
	}
	if p.PassThreshold > 100 || p.QuarantineThreshold < 0 {
		return fmt.Errorf("thresholds must lie within 0-100")
	}
	if p.SampleRate < 0 || p.SampleRate > 1 {
		return fmt.Errorf("sample_rate must lie within 0-1")
	}
	if p.DisagreementThreshold < 0 {
		return fmt.Errorf("disagreement_threshold must not be negative")
	}
	if len(p.CriticalFlags) == 0 {
		return fmt.Errorf("critical_flags must name at least one flag")
	}
	return nil
}

// Band maps a score to its decision band, ignoring flags.
func (p Policy) Band(score float64) datastore.Decision {
	switch {
	case score >= p.PassThreshold:
		return datastore.DecisionPass
	case score >= p.RegenerateThreshold:
		return datastore.DecisionRegenerate
	case score >= p.QuarantineThreshold:
		return datastore.DecisionQuarantine
	default:
		return datastore.DecisionEscalate
	}
}

// Verdict is the outcome of applying the policy to one aggregate.
type Verdict struct {
	Decision    datastore.Decision
	EngineFlags []string
}

// Decide maps an aggregate score and the union of critic flags to a
// decision. A nil score means no critic produced one. sample is a uniform
// draw in [0,1) used only for pass outcomes.
func (p Policy) Decide(score *float64, flags []string, sample float64) Verdict {
	var v Verdict
	if hasAny(flags, p.CriticalFlags) {
		v.Decision = datastore.DecisionBlock
		v.EngineFlags = append(v.EngineFlags, datastore.FlagCriticalSafety)
		return v
	}
	if score == nil {
		v.Decision = datastore.DecisionEscalate
		return v
	}
	v.Decision = p.Band(*score)
	if v.Decision == datastore.DecisionPass && hasAny(flags, p.HighSeverityFlags) {
		v.Decision = datastore.DecisionQuarantine
		v.EngineFlags = append(v.EngineFlags, datastore.FlagHighSeverity)
		return v
	}
	if v.Decision == datastore.DecisionPass && sample < p.SampleRate {
		v.Decision = datastore.DecisionSampledPass
		v.EngineFlags = append(v.EngineFlags, datastore.FlagSampledAudit)
	}
	return v
}

// Snapshot is the policy as recorded in eval-run provenance.
func (p Policy) Snapshot() map[string]any {
	return map[string]any{
		"pass_threshold":         p.PassThreshold,
		"regenerate_threshold":   p.RegenerateThreshold,
		"quarantine_threshold":   p.QuarantineThreshold,
		"critical_flags":         p.CriticalFlags,
		"high_severity_flags":    p.HighSeverityFlags,
		"sample_rate":            p.SampleRate,
		"disagreement_threshold": p.DisagreementThreshold,
	}
}

func hasAny(flags, set []string) bool {
	for _, f := range flags {
		for _, s := range set {
			if strings.EqualFold(f, s) {
				return true
			}
		}
	}
	return false
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
