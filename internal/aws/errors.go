package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrAccessDenied marks a check the credentials may not run.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotEnabled marks a service or region not enabled for the account.
	ErrNotEnabled = errors.New("not enabled")
	// ErrThrottled marks a request rejected by API rate limits.
	ErrThrottled = errors.New("throttled")
)

var errorCodes = map[string]error{
	"AccessDenied":                  ErrAccessDenied,
	"AccessDeniedException":         ErrAccessDenied,
	"UnauthorizedOperation":         ErrAccessDenied,
	"AuthorizationError":            ErrAccessDenied,
	"AuthFailure":                   ErrAccessDenied,
	"OptInRequired":                 ErrNotEnabled,
	"SubscriptionRequiredException": ErrNotEnabled,
	"Throttling":                    ErrThrottled,
	"ThrottlingException":           ErrThrottled,
	"RequestLimitExceeded":          ErrThrottled,
	"TooManyRequestsException":      ErrThrottled,
}

// classify wraps err with a sentinel when its API error code is known.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if sentinel, ok := errorCodes[apiErr.ErrorCode()]; ok {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

// IsAccessDenied reports whether err is a permission failure.
func IsAccessDenied(err error) bool {
	return errors.Is(classify(err), ErrAccessDenied)
}

// isErrorCode reports whether err carries the API error code.
func isErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
