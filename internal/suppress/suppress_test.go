package suppress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/awsscreener/internal/finding"
)

func bucketDoc(ids ...string) *finding.Document {
	var affected finding.AffectedResources
	for _, id := range ids {
		affected.Add("us-east-1", id)
	}
	doc := finding.NewDocument()
	doc.Services["s3"] = finding.ServiceReport{
		Summary: map[string]finding.Finding{
			"BucketEncryption": {
				RuleID:            "BucketEncryption",
				Category:          finding.CategorySecurity,
				Severity:          finding.SeverityHigh,
				AffectedResources: affected,
			},
		},
		Stats: finding.ServiceStats{Resources: len(ids), RulesExecuted: 3},
	}
	return doc
}

func TestApply_ServiceLevelSuppressesEverything(t *testing.T) {
	doc := bucketDoc("b1", "b2", "b3", "b4", "b5")
	set := NewSet(&File{Suppressions: []Entry{{Service: "s3", Rule: "BucketEncryption"}}})

	out := set.Apply(doc)
	f := out.Services["s3"].Summary["BucketEncryption"]

	assert.True(t, f.FullySuppressed)
	assert.Equal(t, 0, f.AffectedResources.Count())
	assert.Equal(t, 5, f.SuppressedResources.Count())
	assert.Equal(t, 5, out.Services["s3"].Stats.Suppressed)

	// input untouched
	assert.Equal(t, 5, doc.Services["s3"].Summary["BucketEncryption"].AffectedResources.Count())
	assert.Equal(t, 0, doc.Services["s3"].Stats.Suppressed)
}

func TestApply_ResourceScopedPartition(t *testing.T) {
	doc := bucketDoc("b1", "b2", "b3", "b4", "b5")
	set := NewSet(&File{Suppressions: []Entry{{Service: "s3", Rule: "BucketEncryption", Resources: IDList{"b1", "b2"}}}})

	out := set.Apply(doc)
	f := out.Services["s3"].Summary["BucketEncryption"]

	assert.False(t, f.FullySuppressed)
	assert.Equal(t, 3, f.AffectedResources.Count())
	assert.Equal(t, 2, f.SuppressedResources.Count())
	assert.True(t, f.SuppressedResources.Contains("us-east-1", "b1"))
	assert.False(t, f.AffectedResources.Contains("us-east-1", "b1"))
	assert.Equal(t, 2, out.Services["s3"].Stats.Suppressed)
}

func TestApply_PartitionIsComplete(t *testing.T) {
	doc := bucketDoc("b1", "b2", "b3")
	set := NewSet(&File{Suppressions: []Entry{{Service: "s3", Rule: "BucketEncryption", ResourceID: IDList{"b2"}}}})

	f := set.Apply(doc).Services["s3"].Summary["BucketEncryption"]
	seen := map[string]int{}
	for _, p := range f.Placements(finding.ViewActive) {
		seen[p.ResourceID]++
	}
	for _, p := range f.Placements(finding.ViewSuppressed) {
		seen[p.ResourceID]++
	}
	assert.Equal(t, map[string]int{"b1": 1, "b2": 1, "b3": 1}, seen)
}

func TestApply_ServiceLevelDominatesResourceScoped(t *testing.T) {
	doc := bucketDoc("b1", "b2")
	set := NewSet(&File{Suppressions: []Entry{
		{Service: "s3", Rule: "BucketEncryption", Resources: IDList{"b1"}},
		{Service: "S3", Rule: "BucketEncryption"},
	}})

	f := set.Apply(doc).Services["s3"].Summary["BucketEncryption"]
	assert.True(t, f.FullySuppressed)
	assert.Equal(t, 2, f.SuppressedResources.Count())
}

func TestApply_ZeroResourceRule(t *testing.T) {
	doc := finding.NewDocument()
	var affected finding.AffectedResources
	affected.Add("us-east-1", "")
	doc.Services["guardduty"] = finding.ServiceReport{Summary: map[string]finding.Finding{
		"GuardDutyDisabled": {RuleID: "GuardDutyDisabled", Category: finding.CategorySecurity, Severity: finding.SeverityHigh, AffectedResources: affected},
	}}

	out := NewSet(&File{Suppressions: []Entry{{Service: "guardduty", Rule: "GuardDutyDisabled"}}}).Apply(doc)
	f := out.Services["guardduty"].Summary["GuardDutyDisabled"]
	assert.Equal(t, 0, f.Weight(finding.ViewActive))
	assert.Equal(t, 1, f.Weight(finding.ViewSuppressed))
	assert.Equal(t, 1, out.Services["guardduty"].Stats.Suppressed)
}

func TestApply_InertEntries(t *testing.T) {
	doc := bucketDoc("b1")
	set := NewSet(&File{Suppressions: []Entry{
		{Service: "rds", Rule: "RDSNotEncrypted"},
		{Service: "s3", Rule: "BucketVersioning"},
		{Service: "s3", Rule: "BucketEncryption", Resources: IDList{"nope"}},
	}})

	out := set.Apply(doc)
	f := out.Services["s3"].Summary["BucketEncryption"]
	assert.Equal(t, 1, f.AffectedResources.Count())
	assert.Equal(t, 0, f.SuppressedResources.Count())
	assert.Len(t, set.Unused(doc), 3)
	require.NotNil(t, out.Metadata.Suppressions)
	assert.Len(t, out.Metadata.Suppressions.Entries, 3)
}

func TestApply_EmptySetLeavesMetadataAlone(t *testing.T) {
	out := NewSet(nil).Apply(bucketDoc("b1"))
	assert.Nil(t, out.Metadata.Suppressions)
}

func TestParse_ResourceIDForms(t *testing.T) {
	data := []byte(`{
  "metadata": {"owner": "platform"},
  "suppressions": [
    {"service": "s3", "rule": "BucketEncryption", "resource_id": "b1"},
    {"service": "s3", "rule": "BucketVersioning", "resource_id": ["b2", "b3"], "resources": "b4"}
  ]
}`)
	f, err := Parse(data, false)
	require.NoError(t, err)
	require.Len(t, f.Suppressions, 2)
	assert.Equal(t, []string{"b1"}, f.Suppressions[0].ResourceIDs())
	assert.Equal(t, []string{"b2", "b3", "b4"}, f.Suppressions[1].ResourceIDs())
	assert.Equal(t, "platform", f.Metadata["owner"])
}

func TestParse_RejectsMissingRule(t *testing.T) {
	_, err := Parse([]byte(`{"suppressions":[{"service":"s3"}]}`), false)
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppressions.yaml")
	content := `suppressions:
  - service: s3
    rule: BucketEncryption
    reason: legacy buckets
    resources:
      - b1
  - service: ec2
    rule: SGOpenSSH
    resource_id: sg-123
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Suppressions, 2)
	assert.Equal(t, "legacy buckets", f.Suppressions[0].Reason)
	assert.Equal(t, []string{"sg-123"}, f.Suppressions[1].ResourceIDs())
}

func TestLoad_EmptyPath(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, f.Suppressions)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
