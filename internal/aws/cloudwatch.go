package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	// maxMetricDataQueries is the GetMetricData per-call query limit.
	maxMetricDataQueries = 500
	metricPeriodSeconds  = 3600
)

// Stat is a CloudWatch statistic.
type Stat string

const (
	StatAverage Stat = "Average"
	StatSum     Stat = "Sum"
)

// Metric names one CloudWatch metric keyed by a single dimension.
type Metric struct {
	Namespace string
	Name      string
	Dimension string
	Stat      Stat
}

// Common metrics used by idle checks.
var (
	MetricEC2CPU        = Metric{"AWS/EC2", "CPUUtilization", "InstanceId", StatAverage}
	MetricEC2Memory     = Metric{"CWAgent", "mem_used_percent", "InstanceId", StatAverage}
	MetricRDSCPU        = Metric{"AWS/RDS", "CPUUtilization", "DBInstanceIdentifier", StatAverage}
	MetricRDSConns      = Metric{"AWS/RDS", "DatabaseConnections", "DBInstanceIdentifier", StatSum}
	MetricRDSFreeMemory = Metric{"AWS/RDS", "FreeableMemory", "DBInstanceIdentifier", StatAverage}
	MetricALBRequests   = Metric{"AWS/ApplicationELB", "RequestCount", "LoadBalancer", StatSum}
	MetricNLBFlows      = Metric{"AWS/NetworkELB", "ActiveFlowCount", "LoadBalancer", StatSum}
	MetricLambdaInvokes = Metric{"AWS/Lambda", "Invocations", "FunctionName", StatSum}
	MetricSQSSent       = Metric{"AWS/SQS", "NumberOfMessagesSent", "QueueName", StatSum}
	MetricSQSReceived   = Metric{"AWS/SQS", "NumberOfMessagesReceived", "QueueName", StatSum}
)

// CloudWatchAPI is the minimal interface for CloudWatch operations needed by the metrics fetcher.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, input *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// MetricsFetcher retrieves CloudWatch metrics in batches.
type MetricsFetcher struct {
	client CloudWatchAPI
	now    func() time.Time
}

// NewMetricsFetcher creates a fetcher using the given CloudWatch client.
func NewMetricsFetcher(client CloudWatchAPI) *MetricsFetcher {
	return &MetricsFetcher{client: client, now: time.Now}
}

// Fetch aggregates metric m for each id over the last lookbackDays. The
// result holds only ids with at least one datapoint: averages of the hourly
// averages for StatAverage, totals for StatSum.
func (f *MetricsFetcher) Fetch(ctx context.Context, m Metric, ids []string, lookbackDays int) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	end := f.now().UTC()
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	results := make(map[string]float64, len(ids))
	batches := batchIDs(ids, maxMetricDataQueries)

	for n, batch := range batches {
		slog.Debug("Fetching CloudWatch metrics", "batch", n+1, "total_batches", len(batches), "metric", m.Name, "count", len(batch))

		input := &cloudwatch.GetMetricDataInput{
			MetricDataQueries: m.queries(batch),
			StartTime:         awssdk.Time(start),
			EndTime:           awssdk.Time(end),
		}
		values := make(map[int][]float64, len(batch))
		paginator := cloudwatch.NewGetMetricDataPaginator(f.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("get metric data %s/%s: %w", m.Namespace, m.Name, classify(err))
			}
			for _, r := range page.MetricDataResults {
				idx, ok := queryIndex(r.Id, len(batch))
				if !ok {
					continue
				}
				values[idx] = append(values[idx], r.Values...)
			}
		}

		for idx, vs := range values {
			if len(vs) == 0 {
				continue
			}
			results[batch[idx]] = m.Stat.reduce(vs)
		}
	}
	return results, nil
}

func (m Metric) queries(batch []string) []cwtypes.MetricDataQuery {
	queries := make([]cwtypes.MetricDataQuery, 0, len(batch))
	for i, id := range batch {
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: awssdk.String("m" + strconv.Itoa(i)),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  awssdk.String(m.Namespace),
					MetricName: awssdk.String(m.Name),
					Dimensions: []cwtypes.Dimension{{
						Name:  awssdk.String(m.Dimension),
						Value: awssdk.String(id),
					}},
				},
				Period: awssdk.Int32(metricPeriodSeconds),
				Stat:   awssdk.String(string(m.Stat)),
			},
		})
	}
	return queries
}

func (s Stat) reduce(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	if s == StatAverage {
		return total / float64(len(vs))
	}
	return total
}

// queryIndex maps a query id "m<i>" back to its batch position.
func queryIndex(id *string, size int) (int, bool) {
	raw, ok := strings.CutPrefix(deref(id), "m")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= size {
		return 0, false
	}
	return idx, true
}

// batchIDs splits a slice of IDs into batches of the given size.
func batchIDs(ids []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = maxMetricDataQueries
	}

	var batches [][]string
	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}
