package aws

import (
	"context"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	gdtypes "github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

const (
	// maxThreatFindings caps the active findings read per region.
	maxThreatFindings = 500
	// getFindingsBatch is the GetFindings per-call id limit.
	getFindingsBatch = 50
)

// GuardDutyAPI is the minimal interface for GuardDuty operations.
type GuardDutyAPI interface {
	ListDetectors(ctx context.Context, input *guardduty.ListDetectorsInput, opts ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error)
	GetDetector(ctx context.Context, input *guardduty.GetDetectorInput, opts ...func(*guardduty.Options)) (*guardduty.GetDetectorOutput, error)
	ListFindings(ctx context.Context, input *guardduty.ListFindingsInput, opts ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error)
	GetFindings(ctx context.Context, input *guardduty.GetFindingsInput, opts ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error)
}

// GuardDutyChecker reports whether threat detection is on and groups the
// active threat findings by type and severity.
type GuardDutyChecker struct {
	cfg   ScanConfig
	newGD func(awssdk.Config) GuardDutyAPI
}

// NewGuardDutyChecker creates the guardduty service checker.
func NewGuardDutyChecker(cfg ScanConfig) *GuardDutyChecker {
	return &GuardDutyChecker{
		cfg:   cfg,
		newGD: func(c awssdk.Config) GuardDutyAPI { return guardduty.NewFromConfig(c) },
	}
}

func (c *GuardDutyChecker) Service() string { return "guardduty" }
func (c *GuardDutyChecker) Global() bool    { return false }

// threatGroup aggregates findings of one type within one severity band.
type threatGroup struct {
	rule  string
	kind  string
	title string
	count int
	max   float64
}

func (c *GuardDutyChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	api := c.newGD(cfg)

	detectors, err := api.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return 0, fmt.Errorf("list detectors: %w", err)
	}
	if len(detectors.DetectorIds) == 0 {
		rec.Record(region, "", "GuardDutyDisabled", "no detector")
		return 0, nil
	}

	detectorID := detectors.DetectorIds[0]
	detector, err := api.GetDetector(ctx, &guardduty.GetDetectorInput{DetectorId: awssdk.String(detectorID)})
	if err != nil {
		return 1, fmt.Errorf("get detector %s: %w", detectorID, err)
	}
	if detector.Status != gdtypes.DetectorStatusEnabled {
		rec.Record(region, detectorID, "GuardDutyDisabled", string(detector.Status))
		return 1, nil
	}

	findings, err := activeFindings(ctx, api, detectorID)
	if err != nil {
		return 1, err
	}
	for _, g := range groupThreats(findings) {
		rec.Record(region, g.kind, g.rule, map[string]any{
			"count":       g.count,
			"title":       g.title,
			"maxSeverity": g.max,
		})
	}
	return 1, nil
}

func activeFindings(ctx context.Context, api GuardDutyAPI, detectorID string) ([]gdtypes.Finding, error) {
	var ids []string
	paginator := guardduty.NewListFindingsPaginator(api, &guardduty.ListFindingsInput{
		DetectorId: awssdk.String(detectorID),
		FindingCriteria: &gdtypes.FindingCriteria{
			Criterion: map[string]gdtypes.Condition{
				"service.archived": {Equals: []string{"false"}},
			},
		},
		SortCriteria: &gdtypes.SortCriteria{
			AttributeName: awssdk.String("severity"),
			OrderBy:       gdtypes.OrderByDesc,
		},
	})
	for paginator.HasMorePages() && len(ids) < maxThreatFindings {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list findings: %w", err)
		}
		ids = append(ids, page.FindingIds...)
	}
	if len(ids) > maxThreatFindings {
		ids = ids[:maxThreatFindings]
	}

	var findings []gdtypes.Finding
	for start := 0; start < len(ids); start += getFindingsBatch {
		end := min(start+getFindingsBatch, len(ids))
		out, err := api.GetFindings(ctx, &guardduty.GetFindingsInput{
			DetectorId: awssdk.String(detectorID),
			FindingIds: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("get findings: %w", err)
		}
		findings = append(findings, out.Findings...)
	}
	return findings, nil
}

// threatRule maps a GuardDuty severity score to its rule: 7 and above is
// high, 4 and above medium, the rest low.
func threatRule(severity float64) string {
	switch {
	case severity >= 7:
		return "GuardDutyHighSeverity"
	case severity >= 4:
		return "GuardDutyMediumSeverity"
	default:
		return "GuardDutyLowSeverity"
	}
}

// groupThreats folds findings into one group per rule and finding type,
// sorted by rule then type.
func groupThreats(findings []gdtypes.Finding) []threatGroup {
	byKey := make(map[[2]string]*threatGroup)
	for _, f := range findings {
		sev := awssdk.ToFloat64(f.Severity)
		key := [2]string{threatRule(sev), deref(f.Type)}
		g, ok := byKey[key]
		if !ok {
			g = &threatGroup{rule: key[0], kind: key[1], title: deref(f.Title)}
			byKey[key] = g
		}
		g.count++
		g.max = max(g.max, sev)
	}

	groups := make([]threatGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].rule != groups[j].rule {
			return groups[i].rule < groups[j].rule
		}
		return groups[i].kind < groups[j].kind
	})
	return groups
}
