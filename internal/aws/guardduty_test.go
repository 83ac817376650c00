package aws

import (
	"context"
	"reflect"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	gdtypes "github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

type mockGuardDutyClient struct {
	detectors []string
	status    gdtypes.DetectorStatus
	findings  []gdtypes.Finding
	getCalls  int
}

func (m *mockGuardDutyClient) ListDetectors(_ context.Context, _ *guardduty.ListDetectorsInput, _ ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error) {
	return &guardduty.ListDetectorsOutput{DetectorIds: m.detectors}, nil
}

func (m *mockGuardDutyClient) GetDetector(_ context.Context, _ *guardduty.GetDetectorInput, _ ...func(*guardduty.Options)) (*guardduty.GetDetectorOutput, error) {
	return &guardduty.GetDetectorOutput{Status: m.status}, nil
}

func (m *mockGuardDutyClient) ListFindings(_ context.Context, _ *guardduty.ListFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error) {
	ids := make([]string, 0, len(m.findings))
	for _, f := range m.findings {
		ids = append(ids, deref(f.Id))
	}
	return &guardduty.ListFindingsOutput{FindingIds: ids}, nil
}

func (m *mockGuardDutyClient) GetFindings(_ context.Context, input *guardduty.GetFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error) {
	m.getCalls++
	want := make(map[string]bool, len(input.FindingIds))
	for _, id := range input.FindingIds {
		want[id] = true
	}
	out := &guardduty.GetFindingsOutput{}
	for _, f := range m.findings {
		if want[deref(f.Id)] {
			out.Findings = append(out.Findings, f)
		}
	}
	return out, nil
}

func threat(id, kind string, severity float64) gdtypes.Finding {
	return gdtypes.Finding{
		Id:       awssdk.String(id),
		Type:     awssdk.String(kind),
		Title:    awssdk.String(kind + " detected"),
		Severity: awssdk.Float64(severity),
	}
}

func runGuardDuty(t *testing.T, mock *mockGuardDutyClient) *scan.Recorder {
	t.Helper()
	checker := &GuardDutyChecker{cfg: testScanConfig(), newGD: fixed[GuardDutyAPI](mock)}
	rec := scan.NewRecorder()
	if _, err := checker.Check(context.Background(), "us-east-1", awssdk.Config{}, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestGuardDutyChecker_NoDetector(t *testing.T) {
	got := fired(runGuardDuty(t, &mockGuardDutyClient{}))
	if !reflect.DeepEqual(got, map[string][]string{"GuardDutyDisabled": {""}}) {
		t.Fatalf("expected region-level disabled finding, got %v", got)
	}
}

func TestGuardDutyChecker_SuspendedDetector(t *testing.T) {
	got := fired(runGuardDuty(t, &mockGuardDutyClient{detectors: []string{"det-1"}, status: gdtypes.DetectorStatusDisabled}))
	if !reflect.DeepEqual(got, map[string][]string{"GuardDutyDisabled": {"det-1"}}) {
		t.Fatalf("expected detector finding, got %v", got)
	}
}

func TestGuardDutyChecker_ThreatsGroupedByType(t *testing.T) {
	mock := &mockGuardDutyClient{
		detectors: []string{"det-1"},
		status:    gdtypes.DetectorStatusEnabled,
	}
	for i := 0; i < 60; i++ {
		mock.findings = append(mock.findings, threat("probe-"+string(rune('a'+i%26))+string(rune('a'+i/26)), "Recon:EC2/PortProbeUnprotectedPort", 2))
	}
	mock.findings = append(mock.findings,
		threat("mine-1", "CryptoCurrency:EC2/BitcoinTool.B!DNS", 8),
		threat("mine-2", "CryptoCurrency:EC2/BitcoinTool.B!DNS", 7.5),
		threat("brute-1", "UnauthorizedAccess:EC2/SSHBruteForce", 5),
	)

	rec := runGuardDuty(t, mock)
	want := map[string][]string{
		"GuardDutyHighSeverity":   {"CryptoCurrency:EC2/BitcoinTool.B!DNS"},
		"GuardDutyMediumSeverity": {"UnauthorizedAccess:EC2/SSHBruteForce"},
		"GuardDutyLowSeverity":    {"Recon:EC2/PortProbeUnprotectedPort"},
	}
	if got := fired(rec); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected findings:\n got %v\nwant %v", got, want)
	}
	high := valueOf(rec, "GuardDutyHighSeverity", "CryptoCurrency:EC2/BitcoinTool.B!DNS").(map[string]any)
	if high["count"] != 2 || high["maxSeverity"] != 8.0 {
		t.Fatalf("unexpected high group: %v", high)
	}
	low := valueOf(rec, "GuardDutyLowSeverity", "Recon:EC2/PortProbeUnprotectedPort").(map[string]any)
	if low["count"] != 60 {
		t.Fatalf("expected 60 probes, got %v", low["count"])
	}
	if mock.getCalls != 2 {
		t.Fatalf("expected 2 GetFindings batches for 63 ids, got %d", mock.getCalls)
	}
}

func TestThreatRule(t *testing.T) {
	tests := map[float64]string{
		8.9: "GuardDutyHighSeverity",
		7.0: "GuardDutyHighSeverity",
		6.9: "GuardDutyMediumSeverity",
		4.0: "GuardDutyMediumSeverity",
		3.9: "GuardDutyLowSeverity",
	}
	for sev, want := range tests {
		if got := threatRule(sev); got != want {
			t.Fatalf("threatRule(%v) = %s, want %s", sev, got, want)
		}
	}
}
