package aws

import (
	"sort"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ppiankov/awsscreener/internal/scan"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testScanConfig() ScanConfig {
	return ScanConfig{
		IdleDays:             7,
		StoppedThresholdDays: 30,
		IdleCPUThreshold:     5,
		HighMemoryThreshold:  50,
		MinBackupRetention:   7,
		Now:                  func() time.Time { return testNow },
	}
}

// fixed returns a client constructor that ignores the config.
func fixed[T any](v T) func(awssdk.Config) T {
	return func(awssdk.Config) T { return v }
}

// fired maps each rule to the sorted resource ids it fired for.
func fired(rec *scan.Recorder) map[string][]string {
	out := make(map[string][]string)
	for _, o := range rec.Observations(nil) {
		out[o.RuleID] = append(out[o.RuleID], o.ResourceID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// valueOf returns the value recorded for rule and resource.
func valueOf(rec *scan.Recorder, rule, id string) any {
	for _, o := range rec.Observations(nil) {
		if o.RuleID == rule && o.ResourceID == id {
			return o.Value
		}
	}
	return nil
}

func daysAgo(n int) *time.Time {
	t := testNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}
