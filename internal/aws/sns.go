package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// SNSAPI is the minimal interface for SNS operations.
type SNSAPI interface {
	ListTopics(ctx context.Context, input *sns.ListTopicsInput, opts ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	GetTopicAttributes(ctx context.Context, input *sns.GetTopicAttributesInput, opts ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SNSChecker evaluates topics.
type SNSChecker struct {
	cfg    ScanConfig
	newSNS func(awssdk.Config) SNSAPI
}

// NewSNSChecker creates the sns service checker.
func NewSNSChecker(cfg ScanConfig) *SNSChecker {
	return &SNSChecker{
		cfg:    cfg,
		newSNS: func(c awssdk.Config) SNSAPI { return sns.NewFromConfig(c) },
	}
}

func (c *SNSChecker) Service() string { return "sns" }
func (c *SNSChecker) Global() bool    { return false }

func (c *SNSChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	api := c.newSNS(cfg)

	var topics []snstypes.Topic
	paginator := sns.NewListTopicsPaginator(api, &sns.ListTopicsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list SNS topics: %w", err)
		}
		topics = append(topics, page.Topics...)
	}

	for _, topic := range topics {
		arn := deref(topic.TopicArn)
		name := topicNameFromARN(arn)
		if c.cfg.Exclude.ShouldExclude(name, nil) {
			continue
		}

		out, err := api.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: awssdk.String(arn)})
		if err != nil {
			slog.Warn("Failed to get SNS topic attributes", "topic", name, "error", err)
			continue
		}
		attrs := out.Attributes

		if attrs["KmsMasterKeyId"] == "" {
			rec.Record(region, name, "SNSNotEncrypted", false)
		}
		if zeroCount(attrs["SubscriptionsConfirmed"]) && zeroCount(attrs["SubscriptionsPending"]) {
			rec.Record(region, name, "SNSNoSubscriptions", 0)
		}
	}
	return len(topics), nil
}

func zeroCount(v string) bool {
	return v == "" || v == "0"
}

// topicNameFromARN returns the last field of a topic ARN.
func topicNameFromARN(arn string) string {
	return arn[strings.LastIndexByte(arn, ':')+1:]
}
