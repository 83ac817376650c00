package framework

import (
	"testing"

	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/rules"
)

func TestBuiltinFrameworks(t *testing.T) {
	ids, err := IDs()
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "cis" || ids[1] != "wa-security" {
		t.Fatalf("expected [cis wa-security], got %v", ids)
	}
}

func TestControlRulesExistInCatalog(t *testing.T) {
	fws, err := Select(nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, fw := range fws {
		for _, c := range fw.Controls {
			for _, ref := range c.Rules {
				service, rule, _ := splitRef(ref)
				meta, err := rules.For(service)
				if err != nil {
					t.Fatalf("%s %s: %v", fw.ID, c.ID, err)
				}
				if _, ok := meta[rule]; !ok {
					t.Errorf("%s %s references unknown rule %s", fw.ID, c.ID, ref)
				}
			}
		}
	}
}

func TestSelectUnknown(t *testing.T) {
	if _, err := Select([]string{"pci"}); err == nil {
		t.Fatal("expected error for unknown framework")
	}
}

func TestEvaluate(t *testing.T) {
	fw := Framework{ID: "t", Name: "Test", Controls: []Control{
		{ID: "1", Rules: []string{"s3.BucketEncryption"}},
		{ID: "2", Rules: []string{"s3.BucketVersioning"}},
		{ID: "3", Rules: []string{"rds.RDSNotEncrypted"}},
		{ID: "4", Rules: []string{"s3.PublicAccessBlock"}},
	}}

	doc := finding.NewDocument()
	enc := finding.Finding{RuleID: "BucketEncryption"}
	enc.AffectedResources.Add("us-east-1", "b1")
	enc.AffectedResources.Add("us-east-1", "b2")
	pab := finding.Finding{RuleID: "PublicAccessBlock", FullySuppressed: true}
	pab.SuppressedResources.Add("us-east-1", "b3")
	doc.Services["s3"] = finding.ServiceReport{Summary: map[string]finding.Finding{
		"BucketEncryption":  enc,
		"PublicAccessBlock": pab,
	}}

	report := Evaluate(doc, fw)
	want := []finding.ControlStatus{
		finding.ControlNotCompliant,
		finding.ControlCompliant,
		finding.ControlNotAvailable,
		finding.ControlCompliant,
	}
	for i, c := range report.Controls {
		if c.Status != want[i] {
			t.Errorf("control %s: expected %s, got %s", c.ID, want[i], c.Status)
		}
	}
	if report.Controls[0].Resources != 2 {
		t.Errorf("expected 2 resources, got %d", report.Controls[0].Resources)
	}
	if report.Summary != (finding.FrameworkSummary{Compliant: 2, NotCompliant: 1, NotAvailable: 1}) {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}
