package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initFlags struct {
	force bool
	dir   string
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate sample config, IAM policy and suppression file",
	Long: `Creates .awsscreener.yaml, a read-only IAM policy covering every check, and
an example suppression file. Existing files are kept unless --force is set.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite existing files")
	initCmd.Flags().StringVar(&initFlags.dir, "dir", ".", "Directory to write the files to")
}

const (
	configFile   = ".awsscreener.yaml"
	policyFile   = "awsscreener-policy.json"
	suppressFile = "awsscreener-suppressions.yaml"
)

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	files := []struct{ name, content string }{
		{configFile, sampleConfig},
		{policyFile, sampleIAMPolicy},
		{suppressFile, sampleSuppressions},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(initFlags.dir, f.name)
		wrote, err := writeIfNotExists(out, path, f.content, initFlags.force)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}
	if len(created) == 0 {
		return nil
	}

	for _, p := range created {
		fmt.Fprintf(out, "Created %s\n", p)
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to customize scan settings\n", configFile)
	fmt.Fprintf(out, "  2. Attach %s to your AWS IAM role or user\n", policyFile)
	fmt.Fprintf(out, "  3. Run: awsscreener scan --suppress-file %s\n", suppressFile)
	return nil
}

func writeIfNotExists(out io.Writer, path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Skipping %s (already exists, use --force to overwrite)\n", path)
			return false, nil
		}
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sampleConfig = `# awsscreener configuration
# Command-line flags override these values.

# AWS profile (or set AWS_PROFILE)
# profile: default

# Regions to scan (default: all enabled regions)
# regions:
#   - us-east-1
#   - eu-west-1

# Services to check (default: all)
# services: [ec2, elb, guardduty, lambda, rds, s3, sns, sqs]

# Lookback window for utilization metrics (days)
idle_days: 7

# Days an EC2 instance may stay stopped before it is reported
stopped_threshold_days: 30

# Idle detection thresholds (percent)
idle_cpu_threshold: 5
high_memory_threshold: 50

# Minimum RDS automated backup retention (days)
min_backup_retention: 7

concurrency: 4
timeout: 10m

# Report output
output_dir: awsscreener-report
format: text
# suppress_file: awsscreener-suppressions.yaml
# frameworks: [cis, wa-security]
# history_db: ~/.awsscreener/history.db

# Single-file viewer under beta/index.html
# beta: true
# spa_bundle: web/dist
# spa_build_cmd: npm --prefix web run build

# Resources the checks skip
# exclude:
#   resource_ids:
#     - i-0abc123
#   tags:
#     - "Environment=sandbox"
#     - "awsscreener:ignore"
`

const sampleIAMPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "AwsScreenerReadOnly",
      "Effect": "Allow",
      "Action": [
        "ec2:DescribeRegions",
        "ec2:DescribeInstances",
        "ec2:DescribeVolumes",
        "ec2:DescribeAddresses",
        "ec2:DescribeSecurityGroups",
        "ec2:DescribeNetworkInterfaces",
        "ec2:DescribeSnapshots",
        "elasticloadbalancing:DescribeLoadBalancers",
        "elasticloadbalancing:DescribeLoadBalancerAttributes",
        "elasticloadbalancing:DescribeTargetGroups",
        "elasticloadbalancing:DescribeTargetHealth",
        "rds:DescribeDBInstances",
        "lambda:ListFunctions",
        "sqs:ListQueues",
        "sqs:GetQueueAttributes",
        "sns:ListTopics",
        "sns:GetTopicAttributes",
        "s3:ListAllMyBuckets",
        "s3:GetEncryptionConfiguration",
        "s3:GetBucketVersioning",
        "s3:GetBucketPublicAccessBlock",
        "guardduty:ListDetectors",
        "guardduty:GetDetector",
        "guardduty:ListFindings",
        "guardduty:GetFindings",
        "cloudwatch:GetMetricData",
        "sts:GetCallerIdentity"
      ],
      "Resource": "*"
    }
  ]
}
`

const sampleSuppressions = `# awsscreener suppressions
# An entry without resource ids suppresses the rule for the whole service.
metadata:
  owner: platform-team
suppressions:
  - service: s3
    rule: BucketVersioning
    reason: Log buckets are write-once
    resources:
      - example-access-logs
  # - service: ec2
  #   rule: SGUnused
  #   reason: Accepted for now
`
