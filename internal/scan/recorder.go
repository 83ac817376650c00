package scan

import (
	"sort"
	"sync"
)

// Recorder collects observations from concurrently running checks. It keeps
// per-region buffers so the final order does not depend on goroutine timing.
type Recorder struct {
	mu       sync.Mutex
	byRegion map[string][]Observation
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{byRegion: make(map[string][]Observation)}
}

// Record appends an observation for region.
func (r *Recorder) Record(region, resourceID, ruleID string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRegion[region] = append(r.byRegion[region], Observation{
		Region:     region,
		ResourceID: resourceID,
		RuleID:     ruleID,
		Value:      value,
	})
}

// Observations returns the recorded observations grouped by region, in the
// given region order. Regions missing from the list follow in sorted order.
func (r *Recorder) Observations(regions []string) []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Observation
	seen := make(map[string]bool, len(r.byRegion))
	for _, region := range regions {
		if seen[region] {
			continue
		}
		seen[region] = true
		out = append(out, r.byRegion[region]...)
	}

	var rest []string
	for region := range r.byRegion {
		if !seen[region] {
			rest = append(rest, region)
		}
	}
	sort.Strings(rest)
	for _, region := range rest {
		out = append(out, r.byRegion[region]...)
	}
	return out
}
