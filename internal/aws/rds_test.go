package aws

import (
	"context"
	"reflect"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

type mockRDSClient struct {
	instances []rdstypes.DBInstance
}

func (m *mockRDSClient) DescribeDBInstances(_ context.Context, _ *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return &rds.DescribeDBInstancesOutput{DBInstances: m.instances}, nil
}

func dbInstance(id string) rdstypes.DBInstance {
	return rdstypes.DBInstance{
		DBInstanceIdentifier:    awssdk.String(id),
		DBInstanceClass:         awssdk.String("db.r5.large"),
		DBInstanceStatus:        awssdk.String("available"),
		Engine:                  awssdk.String("postgres"),
		MultiAZ:                 awssdk.Bool(true),
		StorageEncrypted:        awssdk.Bool(true),
		PubliclyAccessible:      awssdk.Bool(false),
		AutoMinorVersionUpgrade: awssdk.Bool(true),
		BackupRetentionPeriod:   awssdk.Int32(14),
	}
}

func runRDS(t *testing.T, instances []rdstypes.DBInstance, cw map[string]map[string][]float64) *scan.Recorder {
	t.Helper()
	checker := &RDSChecker{cfg: testScanConfig(), newRDS: fixed[RDSAPI](&mockRDSClient{instances: instances}), newCW: fixed[CloudWatchAPI](metricsStub(cw))}
	rec := scan.NewRecorder()
	n, err := checker.Check(context.Background(), "us-east-1", awssdk.Config{}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(instances) {
		t.Fatalf("expected %d resources, got %d", len(instances), n)
	}
	return rec
}

func TestRDSChecker_Configuration(t *testing.T) {
	public := dbInstance("db-public")
	public.PubliclyAccessible = awssdk.Bool(true)
	plain := dbInstance("db-plain")
	plain.StorageEncrypted = awssdk.Bool(false)
	single := dbInstance("db-single")
	single.MultiAZ = awssdk.Bool(false)
	member := dbInstance("db-aurora-1")
	member.MultiAZ = awssdk.Bool(false)
	member.DBClusterIdentifier = awssdk.String("aurora")
	backup := dbInstance("db-backup")
	backup.BackupRetentionPeriod = awssdk.Int32(1)
	pinned := dbInstance("db-pinned")
	pinned.AutoMinorVersionUpgrade = awssdk.Bool(false)

	got := fired(runRDS(t, []rdstypes.DBInstance{public, plain, single, member, backup, pinned}, nil))

	want := map[string][]string{
		"RDSPubliclyAccessible":  {"db-public"},
		"RDSNotEncrypted":        {"db-plain"},
		"RDSSingleAZ":            {"db-single"},
		"RDSBackupRetentionLow":  {"db-backup"},
		"RDSAutoMinorUpgradeOff": {"db-pinned"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected findings:\n got %v\nwant %v", got, want)
	}
}

func TestRDSChecker_Idle(t *testing.T) {
	idle := dbInstance("db-idle")
	noConns := dbInstance("db-noconns")
	busyMemory := dbInstance("db-memory")
	busy := dbInstance("db-busy")
	stopped := dbInstance("db-stopped")
	stopped.DBInstanceStatus = awssdk.String("stopped")

	const gib = 1024 * 1024 * 1024
	cw := map[string]map[string][]float64{
		"CPUUtilization":      {"db-idle": {1}, "db-noconns": {40}, "db-memory": {1}, "db-busy": {40}, "db-stopped": {0}},
		"DatabaseConnections": {"db-idle": {3}, "db-noconns": {0}, "db-memory": {3}, "db-busy": {90}},
		"FreeableMemory":      {"db-memory": {2 * gib}, "db-idle": {15 * gib}},
	}

	rec := runRDS(t, []rdstypes.DBInstance{idle, noConns, busyMemory, busy, stopped}, cw)
	got := fired(rec)["RDSLowUtilization"]
	if !reflect.DeepEqual(got, []string{"db-idle", "db-noconns"}) {
		t.Fatalf("unexpected idle findings: %v", got)
	}
	v := valueOf(rec, "RDSLowUtilization", "db-idle").(map[string]any)
	if v["monthlyCost"].(float64) == 0 {
		t.Fatal("expected a cost estimate")
	}
	if _, ok := v["memoryPercent"]; !ok {
		t.Fatal("expected memory percent when FreeableMemory is known")
	}
}
