package aws

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// S3API is the minimal interface for S3 bucket configuration reads.
type S3API interface {
	ListBuckets(ctx context.Context, input *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketEncryption(ctx context.Context, input *s3.GetBucketEncryptionInput, opts ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	GetBucketVersioning(ctx context.Context, input *s3.GetBucketVersioningInput, opts ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
	GetPublicAccessBlock(ctx context.Context, input *s3.GetPublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
}

// S3Checker evaluates every bucket of the account once per scan.
type S3Checker struct {
	cfg   ScanConfig
	newS3 func(awssdk.Config) S3API
}

// NewS3Checker creates the s3 service checker.
func NewS3Checker(cfg ScanConfig) *S3Checker {
	return &S3Checker{
		cfg:   cfg,
		newS3: func(c awssdk.Config) S3API { return s3.NewFromConfig(c) },
	}
}

func (c *S3Checker) Service() string { return "s3" }
func (c *S3Checker) Global() bool    { return true }

// Check reads the configuration of each bucket through its home region.
// Buckets that cannot be read are reported in the joined error while the
// rest are still evaluated.
func (c *S3Checker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	api := c.newS3(cfg)

	var buckets []s3types.Bucket
	paginator := s3.NewListBucketsPaginator(api, &s3.ListBucketsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list buckets: %w", err)
		}
		buckets = append(buckets, page.Buckets...)
	}

	var errs []error
	for _, b := range buckets {
		name := deref(b.Name)
		if c.cfg.Exclude.ShouldExclude(name, nil) {
			continue
		}
		if err := checkBucket(ctx, api, region, name, deref(b.BucketRegion), rec); err != nil {
			errs = append(errs, fmt.Errorf("bucket %s: %w", name, err))
		}
	}
	return len(buckets), errors.Join(errs...)
}

func checkBucket(ctx context.Context, api S3API, region, name, home string, rec *scan.Recorder) error {
	inHome := func(o *s3.Options) {
		if home != "" {
			o.Region = home
		}
	}
	bucket := awssdk.String(name)

	enc, err := api.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: bucket}, inHome)
	switch {
	case isErrorCode(err, "ServerSideEncryptionConfigurationNotFoundError"):
		rec.Record(region, name, "BucketEncryption", "none")
	case err != nil:
		return fmt.Errorf("get encryption: %w", err)
	case enc.ServerSideEncryptionConfiguration == nil || len(enc.ServerSideEncryptionConfiguration.Rules) == 0:
		rec.Record(region, name, "BucketEncryption", "none")
	}

	ver, err := api.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: bucket}, inHome)
	if err != nil {
		return fmt.Errorf("get versioning: %w", err)
	}
	if ver.Status != s3types.BucketVersioningStatusEnabled {
		status := string(ver.Status)
		if status == "" {
			status = "Disabled"
		}
		rec.Record(region, name, "BucketVersioning", status)
	}

	pab, err := api.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: bucket}, inHome)
	switch {
	case isErrorCode(err, "NoSuchPublicAccessBlockConfiguration"):
		rec.Record(region, name, "PublicAccessBlock", "missing")
	case err != nil:
		return fmt.Errorf("get public access block: %w", err)
	case !fullyBlocked(pab.PublicAccessBlockConfiguration):
		rec.Record(region, name, "PublicAccessBlock", "partial")
	}
	return nil
}

func fullyBlocked(cfg *s3types.PublicAccessBlockConfiguration) bool {
	return cfg != nil &&
		awssdk.ToBool(cfg.BlockPublicAcls) &&
		awssdk.ToBool(cfg.IgnorePublicAcls) &&
		awssdk.ToBool(cfg.BlockPublicPolicy) &&
		awssdk.ToBool(cfg.RestrictPublicBuckets)
}
