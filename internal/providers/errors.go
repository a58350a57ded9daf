package providers

import (
	"strconv"
	"strings"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

// classifyError maps a raw SDK or transport error onto the domain error
// taxonomy. SDK error types differ between providers and forks, so the
// classification sniffs the HTTP status out of the error text, the same
// way both streaming paths already must for mid-stream errors.
func classifyError(provider string, err error) *core.Error {
	if err == nil {
		return nil
	}

	status, retryAfter := extractErrorMetadata(err)

	var code core.ErrorCode
	switch {
	case status == 401 || status == 403:
		code = core.CodeAuthentication
	case status == 429:
		code = core.CodeRateLimited
	case status == 400 || status == 402:
		code = core.CodeInvalidRequest
	case status == 529 || (status >= 500 && status <= 599):
		code = core.CodeServiceUnavailable
	default:
		code = core.CodeModelError
	}

	derr := core.Wrap(code, err, "%s request failed", provider)
	if retryAfter != "" {
		if secs, perr := strconv.Atoi(retryAfter); perr == nil && secs > 0 {
			derr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return derr
}

// extractErrorMetadata pulls an HTTP status code and a Retry-After value
// out of an error's text.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var status int

	for _, candidate := range []int{429, 529, 503, 502, 504, 500, 401, 403, 402, 400} {
		if strings.Contains(errStr, strconv.Itoa(candidate)) {
			status = candidate
			break
		}
	}

	var retryAfter string
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			remaining := errStr[idx+len(marker):]
			remaining = strings.TrimLeft(remaining, ": ")
			if fields := strings.Fields(remaining); len(fields) > 0 {
				retryAfter = strings.Trim(fields[0], ",;")
			}
			break
		}
	}

	return status, retryAfter
}
