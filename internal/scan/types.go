// Package scan holds the raw per-service output produced by service checks,
// before it is normalized into a report document.
package scan

import (
	"errors"

	"github.com/ppiankov/awsscreener/internal/finding"
)

// RuleMeta describes one rule a service check evaluates.
type RuleMeta struct {
	Category         finding.Category `json:"category" yaml:"category"`
	Severity         finding.Severity `json:"severity" yaml:"severity"`
	Description      string           `json:"description" yaml:"description"`
	ShortDescription string           `json:"shortDesc" yaml:"shortDesc"`
	Links            []string         `json:"links,omitempty" yaml:"links"`
	Downtime         int              `json:"downtime,omitempty" yaml:"downtime"`
	SlowDown         int              `json:"slowness,omitempty" yaml:"slowness"`
	AdditionalCost   int              `json:"additionalCost,omitempty" yaml:"additionalCost"`
	NeedFullTest     int              `json:"needFullTest,omitempty" yaml:"needFullTest"`
}

// Impact derives display tags from the numeric impact fields.
func (m RuleMeta) Impact() finding.ImpactTags {
	return finding.ImpactTags{
		Downtime:       m.Downtime != 0,
		SlowDown:       m.SlowDown != 0,
		AdditionalCost: m.AdditionalCost != 0,
		NeedFullTest:   m.NeedFullTest != 0,
	}
}

// Observation records that a rule fired for a resource. An empty ResourceID
// means the rule fired at account or region level.
type Observation struct {
	Region     string `json:"region"`
	ResourceID string `json:"resourceId"`
	RuleID     string `json:"ruleId"`
	Value      any    `json:"value"`
}

// ScanResult is the output of one service check across one or more regions.
type ScanResult struct {
	Service          string              `json:"service"`
	Rules            map[string]RuleMeta `json:"rules"`
	Observations     []Observation       `json:"observations"`
	ResourcesScanned int                 `json:"resourcesScanned"`
	TimeSpent        float64             `json:"timeSpent"`
	Errors           []string            `json:"errors,omitempty"`
	// Err marks the whole result as unusable.
	Err error `json:"-"`
}

// ErrEmptyService is reported for results that do not name their service.
var ErrEmptyService = errors.New("scan result has no service name")

// Validate reports why a result cannot be aggregated.
func (r *ScanResult) Validate() error {
	if r == nil {
		return errors.New("scan result is nil")
	}
	if r.Err != nil {
		return r.Err
	}
	if r.Service == "" {
		return ErrEmptyService
	}
	if finding.IsReservedKey(r.Service) {
		return errors.New("scan result service name uses a reserved prefix: " + r.Service)
	}
	if r.Rules == nil {
		return errors.New("scan result for " + r.Service + " has no rule metadata")
	}
	return nil
}

// FirstRegion returns the region of the first observation, or "".
func (r *ScanResult) FirstRegion() string {
	if len(r.Observations) == 0 {
		return ""
	}
	return r.Observations[0].Region
}
