package commands

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/awsscreener/internal/aws"
)

// enhanceError wraps err with the action that failed and, for common AWS
// problems, a hint on how to fix it.
func enhanceError(action string, err error) error {
	if hint := errorHint(err); hint != "" {
		return fmt.Errorf("%s: %w\n  hint: %s", action, err, hint)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func errorHint(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoCredentialProviders") || strings.Contains(msg, "failed to retrieve credentials"):
		return "Configure AWS credentials: set AWS_PROFILE, AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY, or run 'aws configure'"
	case strings.Contains(msg, "ExpiredToken"):
		return "AWS session token expired. Refresh credentials or run 'aws sso login'"
	case aws.IsAccessDenied(err) || strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "UnauthorizedOperation"):
		return "Insufficient permissions. Attach the policy written by 'awsscreener init' to your role or user"
	case strings.Contains(msg, "RequestExpired"):
		return "Request expired. Check system clock synchronization"
	case errors.Is(err, aws.ErrThrottled) || strings.Contains(msg, "Throttling"):
		return "AWS API rate limit hit. Lower --concurrency or scan fewer regions"
	case errors.Is(err, context.DeadlineExceeded):
		return "Scan timed out. Raise --timeout or narrow --regions and --services"
	}
	return ""
}

// computeTargetHash identifies the scanned target without exposing the
// profile name.
func computeTargetHash(profile string, regions []string) string {
	input := fmt.Sprintf("profile:%s,regions:%s", profile, strings.Join(regions, ","))
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("sha256:%x", h)
}
