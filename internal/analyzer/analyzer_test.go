package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/framework"
	"github.com/ppiankov/awsscreener/internal/rules"
	"github.com/ppiankov/awsscreener/internal/scan"
	"github.com/ppiankov/awsscreener/internal/suppress"
)

func catalog(t *testing.T, service string) map[string]scan.RuleMeta {
	t.Helper()
	m, err := rules.For(service)
	require.NoError(t, err)
	return m
}

func s3Result(t *testing.T, n int) *scan.ScanResult {
	r := &scan.ScanResult{Service: "s3", Rules: catalog(t, "s3"), ResourcesScanned: n}
	for i := range n {
		r.Observations = append(r.Observations, scan.Observation{
			Region: "us-east-1", ResourceID: "bucket-" + string(rune('a'+i)), RuleID: "BucketEncryption", Value: -1,
		})
	}
	return r
}

func ec2Result(t *testing.T) *scan.ScanResult {
	return &scan.ScanResult{
		Service:          "ec2",
		Rules:            catalog(t, "ec2"),
		ResourcesScanned: 4,
		Observations: []scan.Observation{
			{Region: "eu-west-1", ResourceID: "sg-2", RuleID: "SGOpenSSH", Value: "0.0.0.0/0"},
			{Region: "us-east-1", ResourceID: "sg-1", RuleID: "SGOpenSSH", Value: "0.0.0.0/0"},
			{Region: "eu-west-1", ResourceID: "sg-3", RuleID: "SGOpenSSH", Value: "::/0"},
			{Region: "us-east-1", ResourceID: "i-1", RuleID: "EC2LowUtilization", Value: map[string]any{MonthlyCostKey: 12.5}},
		},
	}
}

func mustJSON(t *testing.T, doc *finding.Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func TestBuild_OmitsRulesThatNeverFired(t *testing.T) {
	doc, err := Build([]*scan.ScanResult{s3Result(t, 5)}, Options{AccountID: "123"})
	require.NoError(t, err)

	svc := doc.Services["s3"]
	require.Len(t, svc.Summary, 1)
	f := svc.Summary["BucketEncryption"]
	assert.Equal(t, finding.CategorySecurity, f.Category)
	assert.Equal(t, finding.SeverityHigh, f.Severity)
	assert.Equal(t, 5, f.AffectedResources.Count())
	assert.Equal(t, 3, svc.Stats.RulesExecuted)
	assert.Equal(t, 5, svc.Stats.Resources)
	assert.Equal(t, "123", doc.Metadata.AccountID)
}

func TestBuild_PreservesObservationOrder(t *testing.T) {
	doc, err := Build([]*scan.ScanResult{ec2Result(t)}, Options{})
	require.NoError(t, err)

	ar := doc.Services["ec2"].Summary["SGOpenSSH"].AffectedResources
	require.Len(t, ar, 2)
	assert.Equal(t, "eu-west-1", ar[0].Region)
	assert.Equal(t, "us-east-1", ar[1].Region)
	assert.Equal(t, []string{"sg-2", "sg-3"}, ar[0].Resources)
	assert.Equal(t, "::/0", doc.Services["ec2"].Detail["eu-west-1"]["sg-3"]["SGOpenSSH"].Value)
}

func TestBuild_SkipsUnreadableService(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ec2.json"), []byte("{not json"), 0o644))
	require.NoError(t, scan.WriteFile(dir, s3Result(t, 5)))
	results, err := scan.LoadFiles(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	doc, err := Build(results, Options{})
	require.NoError(t, err)
	assert.NotContains(t, doc.Services, "ec2")
	require.Len(t, doc.Metadata.Warnings, 1)
	assert.True(t, strings.HasPrefix(doc.Metadata.Warnings[0], "ec2:"), doc.Metadata.Warnings[0])

	final := Finalize(doc, FinalizeOptions{Policy: aggregate.DefaultPolicy})
	d := aggregate.Dashboard(final, aggregate.DefaultPolicy)
	assert.Equal(t, 1, d.TotalServices)
	assert.Equal(t, 5, d.TotalFindings)
}

func TestBuild_NoUsableInput(t *testing.T) {
	_, err := Build([]*scan.ScanResult{{Service: "ec2", Err: errors.New("boom")}, nil}, Options{})
	assert.ErrorIs(t, err, ErrNoUsableInput)

	_, err = Build(nil, Options{})
	assert.ErrorIs(t, err, ErrNoUsableInput)
}

func TestBuild_UnknownRuleIgnored(t *testing.T) {
	r := s3Result(t, 1)
	r.Observations = append(r.Observations, scan.Observation{Region: "us-east-1", ResourceID: "x", RuleID: "NoSuchRule"})
	doc, err := Build([]*scan.ScanResult{r}, Options{})
	require.NoError(t, err)
	assert.NotContains(t, doc.Services["s3"].Summary, "NoSuchRule")
}

func TestBuild_Idempotent(t *testing.T) {
	opts := Options{AccountID: "123", RunID: "run-1", GeneratedAt: "2026-01-01T00:00:00Z", Regions: []string{"us-east-1"}}
	input := []*scan.ScanResult{ec2Result(t), s3Result(t, 3)}

	a, err := Build(input, opts)
	require.NoError(t, err)
	b, err := Build(input, opts)
	require.NoError(t, err)
	assert.Equal(t, mustJSON(t, a), mustJSON(t, b))
}

func TestBuild_OrderIndependent(t *testing.T) {
	split := func() []*scan.ScanResult {
		east := &scan.ScanResult{Service: "ec2", Rules: catalog(t, "ec2"), ResourcesScanned: 1,
			Observations: []scan.Observation{{Region: "us-east-1", ResourceID: "sg-1", RuleID: "SGOpenSSH"}}}
		west := &scan.ScanResult{Service: "ec2", Rules: catalog(t, "ec2"), ResourcesScanned: 2,
			Observations: []scan.Observation{{Region: "eu-west-1", ResourceID: "sg-2", RuleID: "SGOpenSSH"}}}
		return []*scan.ScanResult{east, s3Result(t, 2), west}
	}
	in := split()
	reversed := []*scan.ScanResult{in[2], in[1], in[0]}

	a, err := Build(split(), Options{})
	require.NoError(t, err)
	b, err := Build(reversed, Options{})
	require.NoError(t, err)
	assert.Equal(t, mustJSON(t, a), mustJSON(t, b))
	assert.Equal(t, 3, a.Services["ec2"].Stats.Resources)
}

func TestBuild_OrderIndependentForEqualRegionAndSize(t *testing.T) {
	result := func(sg string, value any) *scan.ScanResult {
		return &scan.ScanResult{Service: "ec2", Rules: catalog(t, "ec2"), ResourcesScanned: 1,
			Observations: []scan.Observation{{Region: "us-east-1", ResourceID: sg, RuleID: "SGOpenSSH", Value: value}}}
	}

	tests := []struct {
		name string
		a, b *scan.ScanResult
	}{
		{"different resources", result("sg-a", "0.0.0.0/0"), result("sg-b", "0.0.0.0/0")},
		{"same resource different value", result("sg-a", "0.0.0.0/0"), result("sg-a", "::/0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab, err := Build([]*scan.ScanResult{tt.a, tt.b}, Options{})
			require.NoError(t, err)
			ba, err := Build([]*scan.ScanResult{tt.b, tt.a}, Options{})
			require.NoError(t, err)
			assert.Equal(t, mustJSON(t, ab), mustJSON(t, ba))
		})
	}

	doc, err := Build([]*scan.ScanResult{result("sg-b", nil), result("sg-a", nil)}, Options{})
	require.NoError(t, err)
	ar := doc.Services["ec2"].Summary["SGOpenSSH"].AffectedResources
	require.Len(t, ar, 1)
	assert.Equal(t, []string{"sg-a", "sg-b"}, ar[0].Resources)
}

func TestBuild_ConflictingRuleMetaOrderIndependent(t *testing.T) {
	result := func(sg string, sev finding.Severity) *scan.ScanResult {
		meta := catalog(t, "ec2")
		m := meta["SGOpenSSH"]
		m.Severity = sev
		meta["SGOpenSSH"] = m
		return &scan.ScanResult{Service: "ec2", Rules: meta,
			Observations: []scan.Observation{{Region: "us-east-1", ResourceID: sg, RuleID: "SGOpenSSH"}}}
	}
	high, low := result("sg-a", finding.SeverityHigh), result("sg-a", finding.SeverityLow)

	ab, err := Build([]*scan.ScanResult{high, low}, Options{})
	require.NoError(t, err)
	ba, err := Build([]*scan.ScanResult{low, high}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ab.Services["ec2"].Summary["SGOpenSSH"].Severity, ba.Services["ec2"].Summary["SGOpenSSH"].Severity)
	assert.Equal(t, mustJSON(t, ab), mustJSON(t, ba))
}

func TestBuild_ZeroResourceObservation(t *testing.T) {
	r := &scan.ScanResult{Service: "guardduty", Rules: catalog(t, "guardduty"),
		Observations: []scan.Observation{{Region: "eu-west-1", RuleID: "GuardDutyDisabled"}}}
	doc, err := Build([]*scan.ScanResult{r}, Options{})
	require.NoError(t, err)

	f := doc.Services["guardduty"].Summary["GuardDutyDisabled"]
	assert.Equal(t, 1, f.Weight(finding.ViewActive))
	assert.Empty(t, doc.Services["guardduty"].Detail)
}

func TestFinalize(t *testing.T) {
	doc, err := Build([]*scan.ScanResult{ec2Result(t), s3Result(t, 5)}, Options{})
	require.NoError(t, err)
	set := suppress.NewSet(&suppress.File{Suppressions: []suppress.Entry{
		{Service: "s3", Rule: "BucketEncryption", Resources: suppress.IDList{"bucket-a", "bucket-b"}},
	}})
	fws, err := framework.Select([]string{"cis"})
	require.NoError(t, err)

	final := Finalize(doc, FinalizeOptions{Suppressions: set, Policy: aggregate.DefaultPolicy, Frameworks: fws})

	assert.Zero(t, doc.Services["s3"].Summary["BucketEncryption"].SuppressedResources.Count(), "Finalize modified its input")
	page, ok := final.CustomPages[aggregate.FindingsPage]
	require.True(t, ok, "missing findings page")
	// ec2: 3 SSH + 1 low utilization, s3: 3 after suppression
	assert.Len(t, page.Findings, 7)
	assert.Len(t, page.Suppressed, 2)

	cis, ok := final.Frameworks["cis"]
	require.True(t, ok, "missing cis framework")
	assert.NotZero(t, cis.Summary.NotCompliant)
	assert.NotZero(t, cis.Summary.NotAvailable)
	require.NotNil(t, final.Metadata.Suppressions)
	assert.Len(t, final.Metadata.Suppressions.Entries, 1)

	data := mustJSON(t, final)
	for _, key := range []string{`"framework_cis"`, `"customPage_findings"`, `"__metadata"`} {
		assert.Contains(t, data, key)
	}
}

func TestFinalize_UnusedSuppressionLoggedAtDebug(t *testing.T) {
	doc, err := Build([]*scan.ScanResult{s3Result(t, 1)}, Options{})
	require.NoError(t, err)
	set := suppress.NewSet(&suppress.File{Suppressions: []suppress.Entry{
		{Service: "rds", Rule: "RDSSingleAZ"},
	}})

	var info, debug bytes.Buffer
	Finalize(doc, FinalizeOptions{Suppressions: set, Logger: slog.New(slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}))})
	assert.Empty(t, info.String())

	Finalize(doc, FinalizeOptions{Suppressions: set, Logger: slog.New(slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}))})
	assert.Contains(t, debug.String(), "level=DEBUG")
	assert.Contains(t, debug.String(), "rule=RDSSingleAZ")
}

func TestSummarize(t *testing.T) {
	doc, err := Build([]*scan.ScanResult{ec2Result(t), s3Result(t, 2)}, Options{Regions: []string{"us-east-1", "eu-west-1", "ap-south-1"}})
	require.NoError(t, err)
	s := Summarize(Finalize(doc, FinalizeOptions{Policy: aggregate.DefaultPolicy}), aggregate.DefaultPolicy)

	assert.Equal(t, 6, s.TotalFindings)
	assert.Equal(t, 5, s.BySeverity["high"])
	assert.Equal(t, 1, s.BySeverity["medium"])
	assert.Equal(t, 2, s.ByService["s3"])
	assert.Equal(t, 4, s.ByService["ec2"])
	assert.InDelta(t, 12.5, s.EstimatedMonthlyWaste, 1e-9)
	assert.Equal(t, 3, s.RegionsScanned)
	assert.Equal(t, 6, s.TotalResourcesScanned)
}
