package aws

import (
	"context"
	"fmt"
	"log/slog"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// maxLambdaTimeout is the largest timeout Lambda accepts, in seconds.
const maxLambdaTimeout = 900

// deprecatedRuntimes lists runtimes past their deprecation date.
var deprecatedRuntimes = map[string]bool{
	"nodejs":        true,
	"nodejs4.3":     true,
	"nodejs6.10":    true,
	"nodejs8.10":    true,
	"nodejs10.x":    true,
	"nodejs12.x":    true,
	"nodejs14.x":    true,
	"nodejs16.x":    true,
	"python2.7":     true,
	"python3.6":     true,
	"python3.7":     true,
	"python3.8":     true,
	"ruby2.5":       true,
	"ruby2.7":       true,
	"java8":         true,
	"go1.x":         true,
	"dotnetcore1.0": true,
	"dotnetcore2.0": true,
	"dotnetcore2.1": true,
	"dotnetcore3.1": true,
	"dotnet6":       true,
}

// LambdaAPI is the minimal interface for Lambda operations.
type LambdaAPI interface {
	ListFunctions(ctx context.Context, input *lambda.ListFunctionsInput, opts ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

// LambdaChecker evaluates Lambda functions.
type LambdaChecker struct {
	cfg       ScanConfig
	newLambda func(awssdk.Config) LambdaAPI
	newCW     func(awssdk.Config) CloudWatchAPI
}

// NewLambdaChecker creates the lambda service checker.
func NewLambdaChecker(cfg ScanConfig) *LambdaChecker {
	return &LambdaChecker{
		cfg:       cfg,
		newLambda: func(c awssdk.Config) LambdaAPI { return lambda.NewFromConfig(c) },
		newCW:     newCloudWatch,
	}
}

func (c *LambdaChecker) Service() string { return "lambda" }
func (c *LambdaChecker) Global() bool    { return false }

func (c *LambdaChecker) Check(ctx context.Context, region string, cfg awssdk.Config, rec *scan.Recorder) (int, error) {
	var functions []lambdatypes.FunctionConfiguration
	paginator := lambda.NewListFunctionsPaginator(c.newLambda(cfg), &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list Lambda functions: %w", err)
		}
		functions = append(functions, page.Functions...)
	}

	var names []string
	for _, fn := range functions {
		name := deref(fn.FunctionName)
		if c.cfg.Exclude.ShouldExclude(name, nil) {
			continue
		}
		names = append(names, name)

		if runtime := string(fn.Runtime); deprecatedRuntimes[runtime] {
			rec.Record(region, name, "LambdaDeprecatedRuntime", runtime)
		}
		if derefInt32(fn.Timeout) >= maxLambdaTimeout {
			rec.Record(region, name, "LambdaMaxTimeout", derefInt32(fn.Timeout))
		}
	}
	if len(names) == 0 {
		return len(functions), nil
	}

	invocations, err := NewMetricsFetcher(c.newCW(cfg)).Fetch(ctx, MetricLambdaInvokes, names, c.cfg.IdleDays)
	if err != nil {
		slog.Warn("Failed to fetch Lambda metrics", "region", region, "error", err)
		return len(functions), nil
	}
	for _, name := range names {
		if invocations[name] > 0 {
			continue
		}
		rec.Record(region, name, "LambdaNoInvocations", map[string]any{"lookbackDays": c.cfg.IdleDays})
	}
	return len(functions), nil
}
