package finding

// View selects one side of the suppression partition.
type View int

const (
	ViewActive View = iota
	ViewSuppressed
)

func (v View) String() string {
	if v == ViewSuppressed {
		return "suppressed"
	}
	return "active"
}

// Placement is one countable occurrence of a finding. ResourceID is empty
// for a rule that fired without naming any resource.
type Placement struct {
	Region     string
	ResourceID string
}

// Placements expands a finding into its resource-weighted occurrences in
// view. Every total, table and framework count in the report is derived from
// this expansion:
//   - each affected resource is one placement;
//   - a rule that never had resources is exactly one placement, in the
//     suppressed view if it was fully suppressed and in the active view
//     otherwise;
//   - a rule whose resources were all suppressed has no active placement.
func (f Finding) Placements(v View) []Placement {
	switch v {
	case ViewActive:
		if f.FullySuppressed {
			return nil
		}
		if f.AffectedResources.Count() > 0 {
			return expand(f.AffectedResources)
		}
		if f.SuppressedResources.Count() > 0 {
			return nil
		}
		return []Placement{{Region: firstRegion(f.AffectedResources)}}
	case ViewSuppressed:
		if f.SuppressedResources.Count() > 0 {
			return expand(f.SuppressedResources)
		}
		if f.FullySuppressed {
			return []Placement{{Region: firstRegion(f.SuppressedResources)}}
		}
	}
	return nil
}

// Weight is the resource-weighted count of a finding in view.
func (f Finding) Weight(v View) int {
	return len(f.Placements(v))
}

func expand(a AffectedResources) []Placement {
	out := make([]Placement, 0, a.Count())
	for _, rr := range a {
		for _, id := range rr.Resources {
			out = append(out, Placement{Region: rr.Region, ResourceID: id})
		}
	}
	return out
}

func firstRegion(a AffectedResources) string {
	if len(a) == 0 {
		return ""
	}
	return a[0].Region
}
