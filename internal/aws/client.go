package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ConfigProvider hands out per-region SDK configurations.
type ConfigProvider interface {
	ConfigForRegion(region string) aws.Config
}

// RegionAPI is the minimal interface for region discovery.
type RegionAPI interface {
	DescribeRegions(ctx context.Context, input *ec2.DescribeRegionsInput, opts ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// IdentityAPI is the minimal interface for resolving the caller account.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, input *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client wraps the AWS SDK configuration for creating service clients.
type Client struct {
	cfg aws.Config
}

// NewClient creates a new AWS client using the specified profile and region.
// If profile is empty, the default credential chain is used.
// If region is empty, the default region from config/env is used.
func NewClient(ctx context.Context, profile, region string) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	return &Client{cfg: cfg}, nil
}

// Config returns the underlying AWS config.
func (c *Client) Config() aws.Config {
	return c.cfg
}

// ConfigForRegion returns a copy of the AWS config with the region overridden.
func (c *Client) ConfigForRegion(region string) aws.Config {
	cfg := c.cfg.Copy()
	cfg.Region = region
	return cfg
}

// ListEnabledRegions returns all enabled regions for the account, sorted.
func (c *Client) ListEnabledRegions(ctx context.Context) ([]string, error) {
	return listRegions(ctx, ec2.NewFromConfig(c.cfg))
}

// AccountID resolves the account the credentials belong to.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	return accountID(ctx, sts.NewFromConfig(c.cfg))
}

func listRegions(ctx context.Context, api RegionAPI) ([]string, error) {
	out, err := api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", classify(err))
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if r.RegionName != nil {
			regions = append(regions, *r.RegionName)
		}
	}
	sort.Strings(regions)

	slog.Debug("Discovered enabled regions", "count", len(regions))
	return regions, nil
}

func accountID(ctx context.Context, api IdentityAPI) (string, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", classify(err))
	}
	id := aws.ToString(out.Account)
	if id == "" {
		return "", fmt.Errorf("get caller identity: empty account id")
	}
	return id, nil
}
