package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// SQSAPI is the minimal interface for SQS operations.
type SQSAPI interface {
	ListQueues(ctx context.Context, input *sqs.ListQueuesInput, opts ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	GetQueueAttributes(ctx context.Context, input *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSChecker evaluates queues.
type SQSChecker struct {
	cfg    ScanConfig
	newSQS func(awssdk.Config) SQSAPI
	newCW  func(awssdk.Config) CloudWatchAPI
}

// NewSQSChecker creates the sqs service checker.
func NewSQSChecker(cfg ScanConfig) *SQSChecker {
	return &SQSChecker{
		cfg:    cfg,
		newSQS: func(c awssdk.Config) SQSAPI { return sqs.NewFromConfig(c) },
		newCW:  newCloudWatch,
	}
}

func (c *SQSChecker) Service() string { return "sqs" }
func (c *SQSChecker) Global() bool    { return false }

type queueInfo struct {
	name               string
	arn                string
	redrivePolicy      string
	redriveAllowPolicy string
	kmsKey             string
	managedSSE         bool
}

func (c *SQSChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	api := c.newSQS(cfg)

	var urls []string
	paginator := sqs.NewListQueuesPaginator(api, &sqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list SQS queues: %w", err)
		}
		urls = append(urls, page.QueueUrls...)
	}

	var queues []queueInfo
	for _, url := range urls {
		name := queueNameFromURL(url)
		if c.cfg.Exclude.ShouldExclude(name, nil) {
			continue
		}
		q, err := getQueueInfo(ctx, api, url)
		if err != nil {
			slog.Warn("Failed to get SQS queue attributes", "queue", name, "error", err)
			continue
		}
		queues = append(queues, q)
	}
	if len(queues) == 0 {
		return len(urls), nil
	}

	referenced := make(map[string]bool)
	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, q.name)
		if arn := parseDLQArn(q.redrivePolicy); arn != "" {
			referenced[arn] = true
		}
	}

	for _, q := range queues {
		if q.kmsKey == "" && !q.managedSSE {
			rec.Record(region, q.name, "SQSNotEncrypted", false)
		}
		// a DLQ that allows redrive but no source queue points at
		if q.redriveAllowPolicy != "" && !referenced[q.arn] {
			rec.Record(region, q.name, "SQSOrphanedDLQ", q.arn)
		}
	}

	c.idle(ctx, NewMetricsFetcher(c.newCW(cfg)), region, names, rec)
	return len(urls), nil
}

func (c *SQSChecker) idle(ctx context.Context, metrics *MetricsFetcher, region string, names []string, rec *scan.Recorder) {
	sent, err := metrics.Fetch(ctx, MetricSQSSent, names, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch SQS sent metrics", "region", region, "error", err)
		return
	}
	received, err := metrics.Fetch(ctx, MetricSQSReceived, names, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch SQS received metrics", "region", region, "error", err)
		return
	}
	for _, name := range names {
		if sent[name] == 0 && received[name] == 0 {
			rec.Record(region, name, "SQSIdle", map[string]any{"lookbackDays": c.cfg.IdleDays})
		}
	}
}

func getQueueInfo(ctx context.Context, api SQSAPI, queueURL string) (queueInfo, error) {
	out, err := api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: awssdk.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameQueueArn,
			sqstypes.QueueAttributeNameRedrivePolicy,
			sqstypes.QueueAttributeNameRedriveAllowPolicy,
			sqstypes.QueueAttributeNameKmsMasterKeyId,
			sqstypes.QueueAttributeNameSqsManagedSseEnabled,
		},
	})
	if err != nil {
		return queueInfo{}, err
	}

	return queueInfo{
		name:               queueNameFromURL(queueURL),
		arn:                out.Attributes["QueueArn"],
		redrivePolicy:      out.Attributes["RedrivePolicy"],
		redriveAllowPolicy: out.Attributes["RedriveAllowPolicy"],
		kmsKey:             out.Attributes["KmsMasterKeyId"],
		managedSSE:         out.Attributes["SqsManagedSseEnabled"] == "true",
	}, nil
}

// queueNameFromURL returns the last path segment of a queue URL.
func queueNameFromURL(url string) string {
	return url[strings.LastIndexByte(url, '/')+1:]
}

// parseDLQArn extracts deadLetterTargetArn from a RedrivePolicy document.
func parseDLQArn(redrivePolicy string) string {
	if redrivePolicy == "" {
		return ""
	}
	var policy struct {
		DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	}
	if err := json.Unmarshal([]byte(redrivePolicy), &policy); err != nil {
		return ""
	}
	return policy.DeadLetterTargetArn
}
