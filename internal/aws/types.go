package aws

import "time"

// ScanConfig holds parameters that control check behavior.
type ScanConfig struct {
	IdleDays             int
	StoppedThresholdDays int
	IdleCPUThreshold     float64
	HighMemoryThreshold  float64
	MinBackupRetention   int
	Exclude              ExcludeConfig
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (c ScanConfig) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// ExcludeConfig holds resource exclusion rules.
type ExcludeConfig struct {
	ResourceIDs map[string]bool
	Tags        map[string]string
}

// ShouldExclude reports whether a resource is excluded by id or by a tag.
// A tag rule with an empty value matches any value of that key.
func (e ExcludeConfig) ShouldExclude(id string, tags map[string]string) bool {
	if e.ResourceIDs[id] {
		return true
	}
	for k, want := range e.Tags {
		got, ok := tags[k]
		if !ok {
			continue
		}
		if want == "" || want == got {
			return true
		}
	}
	return false
}

// ScanProgress reports scanning progress to callers.
type ScanProgress struct {
	Service   string
	Region    string
	Message   string
	Timestamp time.Time
}

// costValue is the observation value of cost rules. The analyzer sums the
// monthlyCost key into the waste estimate.
func costValue(monthlyCost float64, extra map[string]any) map[string]any {
	v := map[string]any{"monthlyCost": monthlyCost}
	for k, x := range extra {
		v[k] = x
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
