package aws

import (
	"context"
	"fmt"
	"log/slog"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/ppiankov/awsscreener/internal/pricing"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// RDSAPI is the minimal interface for RDS operations.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, input *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// RDSChecker evaluates DB instances.
type RDSChecker struct {
	cfg    ScanConfig
	newRDS func(awssdk.Config) RDSAPI
	newCW  func(awssdk.Config) CloudWatchAPI
}

// NewRDSChecker creates the rds service checker.
func NewRDSChecker(cfg ScanConfig) *RDSChecker {
	return &RDSChecker{
		cfg:    cfg,
		newRDS: func(c awssdk.Config) RDSAPI { return rds.NewFromConfig(c) },
		newCW:  newCloudWatch,
	}
}

func (c *RDSChecker) Service() string { return "rds" }
func (c *RDSChecker) Global() bool    { return false }

// Check flags exposure, durability and idle DB instances.
func (c *RDSChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	instances, err := listDBInstances(ctx, c.newRDS(cfg))
	if err != nil {
		return 0, fmt.Errorf("list RDS instances: %w", err)
	}

	var available []rdstypes.DBInstance
	for _, inst := range instances {
		id := deref(inst.DBInstanceIdentifier)
		if c.cfg.Exclude.ShouldExclude(id, rdsTagsToMap(inst.TagList)) {
			continue
		}

		if awssdk.ToBool(inst.PubliclyAccessible) {
			rec.Record(region, id, "RDSPubliclyAccessible", true)
		}
		if !awssdk.ToBool(inst.StorageEncrypted) {
			rec.Record(region, id, "RDSNotEncrypted", false)
		}
		// cluster members get availability from the cluster
		if !awssdk.ToBool(inst.MultiAZ) && inst.DBClusterIdentifier == nil {
			rec.Record(region, id, "RDSSingleAZ", false)
		}
		if days := int(derefInt32(inst.BackupRetentionPeriod)); days < c.cfg.MinBackupRetention {
			rec.Record(region, id, "RDSBackupRetentionLow", map[string]any{"days": days})
		}
		if !awssdk.ToBool(inst.AutoMinorVersionUpgrade) {
			rec.Record(region, id, "RDSAutoMinorUpgradeOff", false)
		}

		if deref(inst.DBInstanceStatus) == "available" {
			available = append(available, inst)
		}
	}

	c.idle(ctx, NewMetricsFetcher(c.newCW(cfg)), region, available, rec)
	return len(instances), nil
}

// idle flags available instances with low CPU or no connections over the
// idle window, unless memory use is high.
func (c *RDSChecker) idle(ctx context.Context, metrics *MetricsFetcher, region string, instances []rdstypes.DBInstance, rec *scan.Recorder) {
	if len(instances) == 0 {
		return
	}
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, deref(inst.DBInstanceIdentifier))
	}

	cpu, err := metrics.Fetch(ctx, MetricRDSCPU, ids, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch RDS CPU metrics", "region", region, "error", err)
		return
	}
	conns, err := metrics.Fetch(ctx, MetricRDSConns, ids, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch RDS connection metrics", "region", region, "error", err)
		conns = map[string]float64{}
	}
	free, err := metrics.Fetch(ctx, MetricRDSFreeMemory, ids, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch RDS memory metrics", "region", region, "error", err)
		free = map[string]float64{}
	}

	for _, inst := range instances {
		id := deref(inst.DBInstanceIdentifier)
		avgCPU, hasCPU := cpu[id]
		totalConns, hasConns := conns[id]
		if !(hasCPU && avgCPU < c.cfg.IdleCPUThreshold) && !(hasConns && totalConns == 0) {
			continue
		}

		class := deref(inst.DBInstanceClass)
		extra := map[string]any{
			"instanceClass": class,
			"engine":        deref(inst.Engine),
			"avgCpu":        avgCPU,
			"connections":   totalConns,
		}
		if freeBytes, ok := free[id]; ok {
			if total, known := pricing.RDSInstanceMemoryBytes(class); known && total > 0 {
				memPct := (1 - freeBytes/float64(total)) * 100
				if memPct >= c.cfg.HighMemoryThreshold {
					slog.Debug("RDS instance has high memory usage", "instance", id, "cpu", avgCPU, "memory_pct", memPct)
					continue
				}
				extra["memoryPercent"] = memPct
			}
		}

		cost := pricing.MonthlyRDSCost(class, region, awssdk.ToBool(inst.MultiAZ))
		rec.Record(region, id, "RDSLowUtilization", costValue(cost, extra))
	}
}

func listDBInstances(ctx context.Context, api RDSAPI) ([]rdstypes.DBInstance, error) {
	var instances []rdstypes.DBInstance
	paginator := rds.NewDescribeDBInstancesPaginator(api, &rds.DescribeDBInstancesInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		instances = append(instances, page.DBInstances...)
	}
	return instances, nil
}

func rdsTagsToMap(tags []rdstypes.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}
