package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ppiankov/awsscreener/internal/rules"
	"github.com/ppiankov/awsscreener/internal/scan"
	"golang.org/x/sync/errgroup"
)

const (
	// GlobalRegion labels observations of account-wide services.
	GlobalRegion = "global"
	// globalAPIRegion is the endpoint region used to call global services.
	globalAPIRegion = "us-east-1"
)

// ServiceChecker evaluates the rules of one service in one region and
// records what fired. It returns the number of resources it examined.
type ServiceChecker interface {
	Service() string
	// Global checkers run once per scan instead of once per region.
	Global() bool
	Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error)
}

// DefaultCheckers returns a checker for every supported service.
func DefaultCheckers(cfg ScanConfig) []ServiceChecker {
	return []ServiceChecker{
		NewEC2Checker(cfg),
		NewELBChecker(cfg),
		NewGuardDutyChecker(cfg),
		NewLambdaChecker(cfg),
		NewRDSChecker(cfg),
		NewS3Checker(cfg),
		NewSNSChecker(cfg),
		NewSQSChecker(cfg),
	}
}

// SelectCheckers keeps the checkers of the named services, in the order of
// all. An empty selection keeps everything.
func SelectCheckers(all []ServiceChecker, services []string) ([]ServiceChecker, error) {
	if len(services) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(services))
	for _, s := range services {
		want[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var out []ServiceChecker
	for _, c := range all {
		if want[c.Service()] {
			out = append(out, c)
			delete(want, c.Service())
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for s := range want {
			unknown = append(unknown, s)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown services: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// MultiServiceScanner runs service checkers across regions.
type MultiServiceScanner struct {
	provider    ConfigProvider
	regions     []string
	checkers    []ServiceChecker
	concurrency int
	progressFn  func(ScanProgress)
}

// NewMultiServiceScanner creates a scanner for the given regions and checkers.
func NewMultiServiceScanner(provider ConfigProvider, regions []string, checkers []ServiceChecker, concurrency int) *MultiServiceScanner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &MultiServiceScanner{
		provider:    provider,
		regions:     regions,
		checkers:    checkers,
		concurrency: concurrency,
	}
}

// SetProgressFn sets a callback for progress updates. It is called from
// concurrent goroutines.
func (s *MultiServiceScanner) SetProgressFn(fn func(ScanProgress)) {
	s.progressFn = fn
}

// serviceRun accumulates the outcome of one service's tasks.
type serviceRun struct {
	checker ServiceChecker
	rec     *scan.Recorder

	mu        sync.Mutex
	tasks     int
	failed    int
	resources int
	spent     time.Duration
	errs      []string
}

func (r *serviceRun) finish(region string, n int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources += n
	r.spent += d
	if err != nil {
		r.failed++
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", region, err))
	}
}

// ScanAll runs every checker in every region and returns one result per
// service, in checker order. A failing region is recorded on its service's
// result. A service whose every task failed is returned with Err set.
func (s *MultiServiceScanner) ScanAll(ctx context.Context) ([]*scan.ScanResult, error) {
	runs := make([]*serviceRun, len(s.checkers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, c := range s.checkers {
		run := &serviceRun{checker: c, rec: scan.NewRecorder()}
		runs[i] = run

		regions := s.regions
		if c.Global() {
			regions = []string{GlobalRegion}
		}
		run.tasks = len(regions)

		for _, region := range regions {
			g.Go(func() error {
				s.runTask(gctx, run, region)
				return nil // don't abort other tasks
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}

	results := make([]*scan.ScanResult, 0, len(runs))
	for _, run := range runs {
		results = append(results, s.result(run))
	}
	return results, nil
}

func (s *MultiServiceScanner) runTask(ctx context.Context, run *serviceRun, region string) {
	service := run.checker.Service()
	s.progress(service, region, "scanning")

	apiRegion := region
	if region == GlobalRegion {
		apiRegion = globalAPIRegion
	}

	start := time.Now()
	n, err := run.checker.Check(ctx, region, s.provider.ConfigForRegion(apiRegion), run.rec)
	err = classify(err)
	run.finish(region, n, time.Since(start), err)

	if err != nil {
		slog.Warn("Service check failed", "service", service, "region", region, "error", err)
		s.progress(service, region, "failed")
		return
	}
	slog.Debug("Service check finished", "service", service, "region", region, "resources", n)
	s.progress(service, region, "done")
}

func (s *MultiServiceScanner) result(run *serviceRun) *scan.ScanResult {
	service := run.checker.Service()
	sort.Strings(run.errs)

	r := &scan.ScanResult{
		Service:          service,
		ResourcesScanned: run.resources,
		TimeSpent:        run.spent.Seconds(),
		Errors:           run.errs,
		Observations:     run.rec.Observations(s.regions),
	}

	meta, err := rules.For(service)
	switch {
	case err != nil:
		r.Err = err
	case run.tasks > 0 && run.failed == run.tasks:
		r.Err = fmt.Errorf("%s: all %d checks failed: %w", service, run.tasks, errors.New(strings.Join(run.errs, "; ")))
	default:
		r.Rules = meta
	}
	return r
}

func (s *MultiServiceScanner) progress(service, region, msg string) {
	if s.progressFn == nil {
		return
	}
	s.progressFn(ScanProgress{
		Service:   service,
		Region:    region,
		Message:   msg,
		Timestamp: time.Now(),
	})
}
