package ihe

import "strings"

// DefaultNonRetryableErrors are remote error texts that never succeed on
// a later attempt.
var DefaultNonRetryableErrors = []string{
	"No active consent for patient id",
}

// RetryPolicy classifies outcomes as retryable. Matching is by substring
// against the issue's details text.
type RetryPolicy struct {
	NonRetryable []string
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{NonRetryable: append([]string(nil), DefaultNonRetryableErrors...)}
}

// IsRetryable is true iff some issue has error severity, is neither a
// transport nor a schema error, and its text matches no known
// non-retryable error.
func (p RetryPolicy) IsRetryable(outcome *OperationOutcome) bool {
	if outcome == nil {
		return false
	}
	for _, issue := range outcome.Issue {
		if issue.Severity != SeverityError {
			continue
		}
		if issue.Code == HTTPErrorCode || issue.Code == SchemaErrorCode {
			continue
		}
		if p.knownNonRetryable(issue.Details.Text) {
			continue
		}
		return true
	}
	return false
}

func (p RetryPolicy) knownNonRetryable(text string) bool {
	for _, s := range p.NonRetryable {
		if s != "" && strings.Contains(text, s) {
			return true
		}
	}
	return false
}
