package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/awsscreener/internal/aws"
	"github.com/ppiankov/awsscreener/internal/scan"
)

var scanFlags struct {
	regions              []string
	services             []string
	idleDays             int
	stoppedThresholdDays int
	idleCPUThreshold     float64
	highMemoryThreshold  float64
	minBackupRetention   int
	concurrency          int
	timeout              time.Duration
	noProgress           bool
	saveResults          string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an AWS account and write the report",
	Long: `Run every selected service check in every selected region, then aggregate
the observations into the report under --output-dir.

Checks that fail for one region are recorded as warnings; the report is still
written from the remaining results.`,
	RunE: runScan,
}

func init() {
	addScanFlags(scanCmd)
	addOutputFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&scanFlags.regions, "regions", nil, "Comma-separated regions (default: all enabled regions)")
	f.StringSliceVar(&scanFlags.services, "services", nil, "Comma-separated services to check (default: all)")
	f.IntVar(&scanFlags.idleDays, "idle-days", 7, "Lookback window for utilization metrics (days)")
	f.IntVar(&scanFlags.stoppedThresholdDays, "stopped-threshold-days", 30, "Days an EC2 instance may stay stopped")
	f.Float64Var(&scanFlags.idleCPUThreshold, "idle-cpu-threshold", 5, "Average CPU % below which a resource is idle")
	f.Float64Var(&scanFlags.highMemoryThreshold, "high-memory-threshold", 50, "Memory % above which a resource is never idle")
	f.IntVar(&scanFlags.minBackupRetention, "min-backup-retention", 7, "Minimum RDS backup retention (days)")
	f.IntVar(&scanFlags.concurrency, "concurrency", 4, "Service/region checks run in parallel")
	f.DurationVar(&scanFlags.timeout, "timeout", 10*time.Minute, "Scan timeout")
	f.BoolVar(&scanFlags.noProgress, "no-progress", false, "Disable the progress spinner")
	f.StringVar(&scanFlags.saveResults, "save-results", "", "Also save raw scan results to this directory for 'awsscreener report'")
}

func runScan(cmd *cobra.Command, _ []string) error {
	applyScanDefaults(cmd)
	applyOutputDefaults(cmd)

	ctx := cmd.Context()
	if scanFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanFlags.timeout)
		defer cancel()
	}

	prof := profile
	if prof == "" {
		prof = cfg.Profile
	}
	client, err := aws.NewClient(ctx, prof, "")
	if err != nil {
		return enhanceError("initialize AWS client", err)
	}
	account, err := client.AccountID(ctx)
	if err != nil {
		return enhanceError("resolve account", err)
	}
	regions, err := resolveRegions(ctx, client)
	if err != nil {
		return enhanceError("resolve regions", err)
	}

	checkers, err := aws.SelectCheckers(aws.DefaultCheckers(scanConfig()), scanFlags.services)
	if err != nil {
		return err
	}
	slog.Info("Starting scan", "account", account, "regions", len(regions), "services", len(checkers))

	scanner := aws.NewMultiServiceScanner(client, regions, checkers, scanFlags.concurrency)
	prog := newProgress(cmd.ErrOrStderr(), taskCount(checkers, regions), !scanFlags.noProgress)
	scanner.SetProgressFn(prog.update)
	results, err := scanner.ScanAll(ctx)
	prog.stop()
	if err != nil {
		return enhanceError("scan resources", err)
	}

	if scanFlags.saveResults != "" {
		if err := saveResults(scanFlags.saveResults, results); err != nil {
			return err
		}
	}

	services := make([]string, 0, len(checkers))
	for _, c := range checkers {
		services = append(services, c.Service())
	}
	return produce(ctx, cmd, results, runInfo{
		AccountID: account,
		Profile:   prof,
		Regions:   regions,
		Services:  services,
	})
}

func scanConfig() aws.ScanConfig {
	return aws.ScanConfig{
		IdleDays:             scanFlags.idleDays,
		StoppedThresholdDays: scanFlags.stoppedThresholdDays,
		IdleCPUThreshold:     scanFlags.idleCPUThreshold,
		HighMemoryThreshold:  scanFlags.highMemoryThreshold,
		MinBackupRetention:   scanFlags.minBackupRetention,
		Exclude: aws.ExcludeConfig{
			ResourceIDs: cfg.Exclude.IDSet(),
			Tags:        cfg.Exclude.ParseTags(),
		},
	}
}

func resolveRegions(ctx context.Context, client *aws.Client) ([]string, error) {
	if len(scanFlags.regions) > 0 {
		return scanFlags.regions, nil
	}
	if len(cfg.Regions) > 0 {
		return cfg.Regions, nil
	}
	regions, err := client.ListEnabledRegions(ctx)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no enabled regions; use --regions or set AWS_REGION")
	}
	return regions, nil
}

// applyScanDefaults fills flags the user did not set from the config file.
func applyScanDefaults(cmd *cobra.Command) {
	f := cmd.Flags()
	if !f.Changed("services") && len(cfg.Services) > 0 {
		scanFlags.services = cfg.Services
	}
	if !f.Changed("idle-days") && cfg.IdleDays > 0 {
		scanFlags.idleDays = cfg.IdleDays
	}
	if !f.Changed("stopped-threshold-days") && cfg.StoppedThresholdDays > 0 {
		scanFlags.stoppedThresholdDays = cfg.StoppedThresholdDays
	}
	if !f.Changed("idle-cpu-threshold") && cfg.IdleCPUThreshold > 0 {
		scanFlags.idleCPUThreshold = cfg.IdleCPUThreshold
	}
	if !f.Changed("high-memory-threshold") && cfg.HighMemoryThreshold > 0 {
		scanFlags.highMemoryThreshold = cfg.HighMemoryThreshold
	}
	if !f.Changed("min-backup-retention") && cfg.MinBackupRetention > 0 {
		scanFlags.minBackupRetention = cfg.MinBackupRetention
	}
	if !f.Changed("concurrency") && cfg.Concurrency > 0 {
		scanFlags.concurrency = cfg.Concurrency
	}
	if !f.Changed("timeout") && cfg.TimeoutDuration() > 0 {
		scanFlags.timeout = cfg.TimeoutDuration()
	}
}

// taskCount is the number of checker runs a scan performs.
func taskCount(checkers []aws.ServiceChecker, regions []string) int {
	n := 0
	for _, c := range checkers {
		if c.Global() {
			n++
		} else {
			n += len(regions)
		}
	}
	return n
}

func saveResults(dir string, results []*scan.ScanResult) error {
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if err := scan.WriteFile(dir, r); err != nil {
			return fmt.Errorf("save scan results: %w", err)
		}
	}
	slog.Info("Scan results saved", "dir", dir, "services", len(results))
	return nil
}
