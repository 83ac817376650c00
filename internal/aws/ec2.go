package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/ppiankov/awsscreener/internal/pricing"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// EC2API is the minimal interface for the EC2 operations the ec2 checks use.
type EC2API interface {
	DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, input *ec2.DescribeVolumesInput, opts ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeAddresses(ctx context.Context, input *ec2.DescribeAddressesInput, opts ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeSecurityGroups(ctx context.Context, input *ec2.DescribeSecurityGroupsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, input *ec2.DescribeNetworkInterfacesInput, opts ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
	DescribeSnapshots(ctx context.Context, input *ec2.DescribeSnapshotsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
}

// EC2Checker covers instances, volumes, Elastic IPs, security groups and
// snapshots.
type EC2Checker struct {
	cfg    ScanConfig
	newEC2 func(awssdk.Config) EC2API
	newCW  func(awssdk.Config) CloudWatchAPI
}

// NewEC2Checker creates the ec2 service checker.
func NewEC2Checker(cfg ScanConfig) *EC2Checker {
	return &EC2Checker{
		cfg:    cfg,
		newEC2: func(c awssdk.Config) EC2API { return ec2.NewFromConfig(c) },
		newCW:  newCloudWatch,
	}
}

func newCloudWatch(c awssdk.Config) CloudWatchAPI { return cloudwatch.NewFromConfig(c) }

func (c *EC2Checker) Service() string { return "ec2" }
func (c *EC2Checker) Global() bool    { return false }

// ec2Run is the state of one ec2 check in one region.
type ec2Run struct {
	api     EC2API
	metrics *MetricsFetcher
	region  string
	cfg     ScanConfig
	rec     *scan.Recorder
}

// Check runs every ec2 sub-check. A failing sub-check does not stop the
// others; their errors are joined.
func (c *EC2Checker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	r := &ec2Run{
		api:     c.newEC2(cfg),
		metrics: NewMetricsFetcher(c.newCW(cfg)),
		region:  region,
		cfg:     c.cfg,
		rec:     rec,
	}

	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"instances", r.instances},
		{"volumes", r.volumes},
		{"addresses", r.addresses},
		{"security groups", r.securityGroups},
		{"snapshots", r.snapshots},
	}

	var (
		total int
		errs  []error
	)
	for _, s := range steps {
		n, err := s.fn(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return total, errors.Join(errs...)
}

func (r *ec2Run) instances(ctx context.Context) (int, error) {
	instances, err := r.listInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("list EC2 instances: %w", err)
	}
	if len(instances) == 0 {
		return 0, nil
	}
	r.rec.Record(r.region, "", "EC2RegionCoverage", map[string]any{"instances": len(instances)})

	now := r.cfg.now()
	running := make(map[string]ec2types.Instance)
	var runningIDs []string
	for _, inst := range instances {
		id := deref(inst.InstanceId)
		if r.cfg.Exclude.ShouldExclude(id, ec2TagsToMap(inst.Tags)) {
			continue
		}

		if inst.MetadataOptions != nil && inst.MetadataOptions.HttpTokens != ec2types.HttpTokensStateRequired {
			r.rec.Record(r.region, id, "EC2IMDSv2NotEnforced", string(inst.MetadataOptions.HttpTokens))
		}
		if ip := deref(inst.PublicIpAddress); ip != "" {
			r.rec.Record(r.region, id, "EC2PublicIP", ip)
		}

		if inst.State == nil {
			continue
		}
		switch inst.State.Name {
		case ec2types.InstanceStateNameStopped:
			since := stoppedSince(inst)
			if since.IsZero() {
				continue
			}
			days := int(now.Sub(since).Hours() / 24)
			if days >= r.cfg.StoppedThresholdDays {
				r.rec.Record(r.region, id, "EC2LongStopped", map[string]any{
					"daysStopped":  days,
					"instanceType": string(inst.InstanceType),
				})
			}
		case ec2types.InstanceStateNameRunning:
			runningIDs = append(runningIDs, id)
			running[id] = inst
		}
	}

	r.idleInstances(ctx, runningIDs, running)
	return len(instances), nil
}

// idleInstances flags running instances whose CPU stays below the idle
// threshold. High memory use from the CloudWatch agent overrides the signal.
// Missing metrics are logged and skipped.
func (r *ec2Run) idleInstances(ctx context.Context, ids []string, byID map[string]ec2types.Instance) {
	if len(ids) == 0 {
		return
	}
	cpu, err := r.metrics.Fetch(ctx, MetricEC2CPU, ids, r.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch EC2 CPU metrics", "region", r.region, "error", err)
		return
	}
	mem, err := r.metrics.Fetch(ctx, MetricEC2Memory, ids, r.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch EC2 memory metrics", "region", r.region, "error", err)
		mem = map[string]float64{}
	}

	for _, id := range ids {
		avgCPU, ok := cpu[id]
		if !ok || avgCPU >= r.cfg.IdleCPUThreshold {
			continue
		}
		avgMem, hasMem := mem[id]
		if hasMem && avgMem >= r.cfg.HighMemoryThreshold {
			slog.Debug("Instance has low CPU but high memory", "instance", id, "cpu", avgCPU, "memory", avgMem)
			continue
		}

		instanceType := string(byID[id].InstanceType)
		extra := map[string]any{
			"instanceType": instanceType,
			"avgCpu":       avgCPU,
			"lookbackDays": r.cfg.IdleDays,
		}
		if hasMem {
			extra["avgMemory"] = avgMem
		}
		r.rec.Record(r.region, id, "EC2LowUtilization", costValue(pricing.MonthlyEC2Cost(instanceType, r.region), extra))
	}
}

func (r *ec2Run) listInstances(ctx context.Context) ([]ec2types.Instance, error) {
	var instances []ec2types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(r.api, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   awssdk.String("instance-state-name"),
				Values: []string{"running", "stopped"},
			},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			instances = append(instances, res.Instances...)
		}
	}
	return instances, nil
}

const transitionLayout = "2006-01-02 15:04:05 MST"

// stoppedSince reads the stop time from the state transition reason, e.g.
// "User initiated (2024-01-02 10:11:12 GMT)". LaunchTime is the fallback.
func stoppedSince(inst ec2types.Instance) time.Time {
	reason := deref(inst.StateTransitionReason)
	if open := strings.LastIndexByte(reason, '('); open >= 0 {
		if end := strings.IndexByte(reason[open:], ')'); end > 0 {
			if t, err := time.Parse(transitionLayout, reason[open+1:open+end]); err == nil {
				return t
			}
		}
	}
	if inst.LaunchTime != nil {
		return *inst.LaunchTime
	}
	return time.Time{}
}

func ec2TagsToMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}
