package finding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func resources(pairs ...string) AffectedResources {
	var a AffectedResources
	for i := 0; i+1 < len(pairs); i += 2 {
		a.Add(pairs[i], pairs[i+1])
	}
	return a
}

func TestWeight_CountsResources(t *testing.T) {
	f := Finding{AffectedResources: resources("us-east-1", "a", "us-east-1", "b", "eu-west-1", "c")}
	assert.Equal(t, 3, f.Weight(ViewActive))
	assert.Equal(t, 0, f.Weight(ViewSuppressed))
	assert.Equal(t, []Placement{{"us-east-1", "a"}, {"us-east-1", "b"}, {"eu-west-1", "c"}}, f.Placements(ViewActive))
}

func TestWeight_ZeroResourceRuleCountsOnce(t *testing.T) {
	f := Finding{AffectedResources: resources("us-east-1", "")}
	assert.Equal(t, 1, f.Weight(ViewActive))
	assert.Equal(t, []Placement{{Region: "us-east-1"}}, f.Placements(ViewActive))

	empty := Finding{}
	assert.Equal(t, 1, empty.Weight(ViewActive))
}

func TestWeight_FullySuppressedZeroResourceRule(t *testing.T) {
	f := Finding{FullySuppressed: true, SuppressedResources: resources("us-east-1", "")}
	assert.Equal(t, 0, f.Weight(ViewActive))
	assert.Equal(t, 1, f.Weight(ViewSuppressed))
}

func TestWeight_AllResourcesSuppressedLeavesNoActivePlacement(t *testing.T) {
	f := Finding{SuppressedResources: resources("us-east-1", "a")}
	assert.Equal(t, 0, f.Weight(ViewActive))
	assert.Equal(t, 1, f.Weight(ViewSuppressed))
}

func TestWeight_PartialSuppression(t *testing.T) {
	f := Finding{
		AffectedResources:   resources("us-east-1", "a", "eu-west-1", "c"),
		SuppressedResources: resources("us-east-1", "b"),
	}
	assert.Equal(t, 2, f.Weight(ViewActive))
	assert.Equal(t, 1, f.Weight(ViewSuppressed))
}
