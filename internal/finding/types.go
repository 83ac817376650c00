// Package finding defines the normalized report document produced by a scan
// run and consumed by every aggregator and renderer.
package finding

import (
	"fmt"
	"strings"
)

// Category is the best-practice pillar a rule belongs to.
type Category string

const (
	CategorySecurity    Category = "S"
	CategoryReliability Category = "R"
	CategoryCost        Category = "C"
	CategoryPerformance Category = "P"
	CategoryOperational Category = "O"
	CategoryInternal    Category = "T"
)

var categoryNames = map[Category]string{
	CategorySecurity:    "Security",
	CategoryReliability: "Reliability",
	CategoryCost:        "Cost Optimization",
	CategoryPerformance: "Performance Efficiency",
	CategoryOperational: "Operational Excellence",
	CategoryInternal:    "Internal",
}

// Name returns the human readable pillar name.
func (c Category) Name() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return string(c)
}

// UserFacing reports whether findings of this category may surface in any
// aggregated view. Internal bookkeeping rules never do.
func (c Category) UserFacing() bool {
	return c != CategoryInternal
}

// ParseCategory accepts either the one-letter code or the pillar name.
func ParseCategory(s string) (Category, error) {
	v := strings.TrimSpace(s)
	for c, name := range categoryNames {
		if strings.EqualFold(v, string(c)) || strings.EqualFold(v, name) {
			return c, nil
		}
	}
	switch strings.ToLower(v) {
	case "cost":
		return CategoryCost, nil
	case "performance":
		return CategoryPerformance, nil
	case "operational", "operations":
		return CategoryOperational, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// UnmarshalText lets rule catalogs and suppression files use either form.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Severity ranks a finding's risk.
type Severity string

const (
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational}

// Rank orders severities High(0) > Medium(1) > Low(2) > Informational(3).
// Unknown values sort last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// ParseSeverity is case-insensitive and accepts "Info" for Informational.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h":
		return SeverityHigh, nil
	case "medium", "m":
		return SeverityMedium, nil
	case "low", "l":
		return SeverityLow, nil
	case "informational", "info", "i":
		return SeverityInformational, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ImpactTags are derived from the non-zero numeric impact fields of a rule.
type ImpactTags struct {
	Downtime       bool `json:"downtime,omitempty"`
	SlowDown       bool `json:"slowness,omitempty"`
	AdditionalCost bool `json:"additionalCost,omitempty"`
	NeedFullTest   bool `json:"needFullTest,omitempty"`
}

// Labels returns display labels for the set tags.
func (t ImpactTags) Labels() []string {
	var out []string
	if t.Downtime {
		out = append(out, "Downtime risk")
	}
	if t.SlowDown {
		out = append(out, "Performance impact")
	}
	if t.AdditionalCost {
		out = append(out, "Cost impact")
	}
	if t.NeedFullTest {
		out = append(out, "Requires testing")
	}
	return out
}

// Finding is one rule that fired for a service.
type Finding struct {
	RuleID              string            `json:"ruleId"`
	Category            Category          `json:"category"`
	Severity            Severity          `json:"severity"`
	Description         string            `json:"description"`
	ShortDescription    string            `json:"shortDesc"`
	Links               []string          `json:"links,omitempty"`
	Impact              ImpactTags        `json:"impact"`
	AffectedResources   AffectedResources `json:"affectedResources"`
	SuppressedResources AffectedResources `json:"suppressedResources,omitempty"`
	FullySuppressed     bool              `json:"suppressed,omitempty"`
}

// HadResources reports whether the rule fired against at least one concrete
// resource, counting both partitions.
func (f Finding) HadResources() bool {
	return f.AffectedResources.Count()+f.SuppressedResources.Count() > 0
}

// Clone returns a deep copy.
func (f Finding) Clone() Finding {
	out := f
	out.Links = append([]string(nil), f.Links...)
	out.AffectedResources = f.AffectedResources.Clone()
	out.SuppressedResources = f.SuppressedResources.Clone()
	return out
}

// ResourceFinding is the observed value of a rule for one resource.
type ResourceFinding struct {
	Value any `json:"value"`
}

// ServiceStats are per-service run statistics. TimeSpent is the only field
// that varies between identical runs.
type ServiceStats struct {
	Resources     int     `json:"resources"`
	RulesExecuted int     `json:"rules"`
	Suppressed    int     `json:"suppressed"`
	TimeSpent     float64 `json:"timespent"`
}

// Detail indexes observations as region -> resource -> rule.
type Detail map[string]map[string]map[string]ResourceFinding

// ServiceReport is the normalized output for one AWS service.
type ServiceReport struct {
	Summary map[string]Finding `json:"summary"`
	Detail  Detail             `json:"detail"`
	Stats   ServiceStats       `json:"stats"`
}

// Clone returns a deep copy.
func (r ServiceReport) Clone() ServiceReport {
	out := ServiceReport{
		Summary: make(map[string]Finding, len(r.Summary)),
		Detail:  make(Detail, len(r.Detail)),
		Stats:   r.Stats,
	}
	for id, f := range r.Summary {
		out.Summary[id] = f.Clone()
	}
	for region, resources := range r.Detail {
		rc := make(map[string]map[string]ResourceFinding, len(resources))
		for res, rules := range resources {
			rr := make(map[string]ResourceFinding, len(rules))
			for rule, v := range rules {
				rr[rule] = v
			}
			rc[res] = rr
		}
		out.Detail[region] = rc
	}
	return out
}
