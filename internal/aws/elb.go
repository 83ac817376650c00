package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/ppiankov/awsscreener/internal/pricing"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// ELBAPI is the minimal interface for ELBv2 operations.
type ELBAPI interface {
	DescribeLoadBalancers(ctx context.Context, input *elasticloadbalancingv2.DescribeLoadBalancersInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error)
	DescribeLoadBalancerAttributes(ctx context.Context, input *elasticloadbalancingv2.DescribeLoadBalancerAttributesInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancerAttributesOutput, error)
	DescribeTargetGroups(ctx context.Context, input *elasticloadbalancingv2.DescribeTargetGroupsInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, input *elasticloadbalancingv2.DescribeTargetHealthInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error)
}

// ELBChecker evaluates application and network load balancers.
type ELBChecker struct {
	cfg    ScanConfig
	newELB func(awssdk.Config) ELBAPI
	newCW  func(awssdk.Config) CloudWatchAPI
}

// NewELBChecker creates the elb service checker.
func NewELBChecker(cfg ScanConfig) *ELBChecker {
	return &ELBChecker{
		cfg:    cfg,
		newELB: func(c awssdk.Config) ELBAPI { return elasticloadbalancingv2.NewFromConfig(c) },
		newCW:  newCloudWatch,
	}
}

func (c *ELBChecker) Service() string { return "elb" }
func (c *ELBChecker) Global() bool    { return false }

func (c *ELBChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	api := c.newELB(cfg)
	metrics := NewMetricsFetcher(c.newCW(cfg))

	var lbs []elbtypes.LoadBalancer
	paginator := elasticloadbalancingv2.NewDescribeLoadBalancersPaginator(api, &elasticloadbalancingv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list load balancers: %w", err)
		}
		lbs = append(lbs, page.LoadBalancers...)
	}

	for _, lb := range lbs {
		arn := deref(lb.LoadBalancerArn)
		name := deref(lb.LoadBalancerName)
		if c.cfg.Exclude.ShouldExclude(arn, nil) || c.cfg.Exclude.ShouldExclude(name, nil) {
			continue
		}

		if len(lb.AvailabilityZones) < 2 {
			rec.Record(region, name, "ELBNotMultiAZ", map[string]any{"zones": len(lb.AvailabilityZones)})
		}

		protected, err := deletionProtected(ctx, api, arn)
		if err != nil {
			slog.Warn("Failed to read load balancer attributes", "lb", name, "error", err)
		} else if !protected {
			rec.Record(region, name, "ELBDeletionProtectionOff", false)
		}

		idle, err := c.isIdle(ctx, api, metrics, lb)
		if err != nil {
			slog.Warn("Failed to check load balancer activity", "lb", name, "error", err)
			continue
		}
		if idle {
			rec.Record(region, name, "ELBIdle", costValue(pricing.MonthlyLBCost(string(lb.Type), region), map[string]any{
				"type":   string(lb.Type),
				"scheme": string(lb.Scheme),
			}))
		}
	}
	return len(lbs), nil
}

func deletionProtected(ctx context.Context, api ELBAPI, arn string) (bool, error) {
	out, err := api.DescribeLoadBalancerAttributes(ctx, &elasticloadbalancingv2.DescribeLoadBalancerAttributesInput{
		LoadBalancerArn: awssdk.String(arn),
	})
	if err != nil {
		return false, err
	}
	for _, a := range out.Attributes {
		if deref(a.Key) == "deletion_protection.enabled" {
			return deref(a.Value) == "true", nil
		}
	}
	return false, nil
}

// isIdle reports a load balancer with no healthy target, or with healthy
// targets but no traffic over the idle window.
func (c *ELBChecker) isIdle(ctx context.Context, api ELBAPI, metrics *MetricsFetcher, lb elbtypes.LoadBalancer) (bool, error) {
	healthy, err := hasHealthyTargets(ctx, api, deref(lb.LoadBalancerArn))
	if err != nil {
		return false, err
	}
	if !healthy {
		return true, nil
	}

	var m Metric
	switch lb.Type {
	case elbtypes.LoadBalancerTypeEnumApplication:
		m = MetricALBRequests
	case elbtypes.LoadBalancerTypeEnumNetwork:
		m = MetricNLBFlows
	default:
		return false, nil
	}

	dim := extractLBDimension(deref(lb.LoadBalancerArn))
	if dim == "" {
		return false, nil
	}
	sums, err := metrics.Fetch(ctx, m, []string{dim}, c.cfg.IdleDays)
	if err != nil {
		return false, err
	}
	// no datapoints means no traffic
	return sums[dim] == 0, nil
}

func hasHealthyTargets(ctx context.Context, api ELBAPI, arn string) (bool, error) {
	tgOut, err := api.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		LoadBalancerArn: awssdk.String(arn),
	})
	if err != nil {
		return false, err
	}

	for _, tg := range tgOut.TargetGroups {
		if tg.TargetGroupArn == nil {
			continue
		}
		healthOut, err := api.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
			TargetGroupArn: tg.TargetGroupArn,
		})
		if err != nil {
			continue
		}
		for _, desc := range healthOut.TargetHealthDescriptions {
			if desc.TargetHealth != nil && desc.TargetHealth.State == elbtypes.TargetHealthStateEnumHealthy {
				return true, nil
			}
		}
	}
	return false, nil
}

// extractLBDimension returns the CloudWatch dimension of an ELBv2 ARN:
// arn:aws:elasticloadbalancing:us-east-1:123456:loadbalancer/app/my-lb/abc123
// becomes app/my-lb/abc123.
func extractLBDimension(arn string) string {
	_, dim, ok := strings.Cut(arn, ":loadbalancer/")
	if !ok {
		return ""
	}
	return dim
}
