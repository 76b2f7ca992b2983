package domain

import "fmt"

// Operator is an alert rule comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Valid reports whether the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Satisfied reports whether value compares true against threshold.
func (o Operator) Satisfied(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	}
	return false
}

// Rearmed reports whether value has crossed back past the hysteresis
// boundary, re-arming a rule that is in cooldown. For "greater" operators
// the boundary is threshold-margin, for "less" operators threshold+margin.
func (o Operator) Rearmed(value, threshold, margin float64) bool {
	switch o {
	case OpLess, OpLessEqual:
		return value > threshold+margin
	case OpGreater, OpGreaterEqual:
		return value < threshold-margin
	}
	return false
}

// AlertRule is one user-configured alert condition on a monitored location.
type AlertRule struct {
	ID        string   `json:"id"`
	Parameter string   `json:"parameter"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`

	// MinConsecutive is the number of consecutive qualifying samples
	// required before the rule triggers. Values below 1 mean 1.
	MinConsecutive int `json:"min_consecutive"`

	// Hysteresis is the margin the value must cross back past the
	// threshold before the rule re-arms after triggering.
	Hysteresis float64 `json:"hysteresis,omitempty"`
}

// Validate reports the first structural problem with the rule, or nil.
func (r AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if r.Parameter == "" {
		return fmt.Errorf("rule %s has no parameter", r.ID)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("rule %s has unsupported operator %q", r.ID, r.Operator)
	}
	if r.Hysteresis < 0 {
		return fmt.Errorf("rule %s has negative hysteresis", r.ID)
	}
	return nil
}

// Recipient is a notification delivery target: a device token or a topic.
// Exactly one of the two should be set.
type Recipient struct {
	Token string `json:"token,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// MonitoredLocation is a user point of interest with its alert rules and
// delivery targets. Supplied by the subscriber feed; read-only to the core.
type MonitoredLocation struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Coordinate Coordinate  `json:"coordinate"`
	Rules      []AlertRule `json:"rules"`
	Recipients []Recipient `json:"recipients,omitempty"`
}
