package remediate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the declarative remediation-policy map. It is a pure parameter
// to Analyze; the engine holds no mutable policy state, so identical reports
// under the same policy always produce identical mandates.
type Policy struct {
	// VetoRetryTarget is the threshold a vetoed proposal must clear on retry.
	VetoRetryTarget float64 `yaml:"veto_retry_target"`

	// MajorDeficitGap is the score gap at which a deficit is classified as
	// major rather than targeted.
	MajorDeficitGap float64 `yaml:"major_deficit_gap"`

	// MinimumIncrease floors the demanded coverage delta, in percentage
	// points.
	MinimumIncrease int `yaml:"minimum_increase"`

	// SensitivityMultiplier scales the score gap into a coverage delta.
	SensitivityMultiplier float64 `yaml:"sensitivity_multiplier"`

	// ReadinessBuffer is added to the class threshold after a readiness
	// failure.
	ReadinessBuffer float64 `yaml:"readiness_buffer"`

	// Descriptions optionally overrides the human-readable text attached to
	// an action type.
	Descriptions map[ActionType]string `yaml:"descriptions,omitempty"`
}

// DefaultPolicy returns the built-in remediation parameters.
func DefaultPolicy() Policy {
	return Policy{
		VetoRetryTarget:       0.95,
		MajorDeficitGap:       0.10,
		MinimumIncrease:       5,
		SensitivityMultiplier: 1.5,
		ReadinessBuffer:       0.10,
	}
}

// LoadPolicy reads a policy map from a YAML file layered over the defaults.
// A missing file is not an error; the defaults apply unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("reading remediation policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing remediation policy %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("remediation policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.VetoRetryTarget <= 0 || p.VetoRetryTarget > 1 {
		return fmt.Errorf("veto_retry_target %v out of (0,1]", p.VetoRetryTarget)
	}
	if p.MajorDeficitGap <= 0 || p.MajorDeficitGap >= 1 {
		return fmt.Errorf("major_deficit_gap %v out of (0,1)", p.MajorDeficitGap)
	}
	if p.MinimumIncrease < 1 {
		return fmt.Errorf("minimum_increase %d must be positive", p.MinimumIncrease)
	}
	if p.SensitivityMultiplier <= 0 {
		return fmt.Errorf("sensitivity_multiplier %v must be positive", p.SensitivityMultiplier)
	}
	if p.ReadinessBuffer < 0 || p.ReadinessBuffer >= 1 {
		return fmt.Errorf("readiness_buffer %v out of [0,1)", p.ReadinessBuffer)
	}
	return nil
}

func (p Policy) description(t ActionType, fallback string) string {
	if d, ok := p.Descriptions[t]; ok {
		return d
	}
	return fallback
}
