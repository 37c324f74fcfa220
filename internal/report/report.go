package report

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
)

// Report describes the outcomes of one request id
type Report struct {
	RequestID         string         `json:"requestId"`
	Total             int            `json:"total"`
	SuccessPercentage float64        `json:"successPercentage"`
	FailurePercentage float64        `json:"failurePercentage"`
	Errors            []GatewayError `json:"errorOids,omitempty"`
}

// GatewayError is one failed gateway of a request
type GatewayError struct {
	OID   string `json:"oid"`
	Error string `json:"error"`
}

// ErrorDetail counts identical failures across reports
type ErrorDetail struct {
	Count   int    `json:"count"`
	Details string `json:"details"`
}

// Summary aggregates a set of reports
type Summary struct {
	Reports                  []Report               `json:"simplifiedReports"`
	AverageSuccessPercentage float64                `json:"averageSuccessPercentage"`
	AverageFailurePercentage float64                `json:"averageFailurePercentage"`
	ErrorDetails             map[string]ErrorDetail `json:"errorDetailsMap"`
}

// PatientDiscoveryReport counts a gateway as successful when it matched or
// answered with a not-found issue
func PatientDiscoveryReport(requestID string, results []*ihe.PatientDiscoveryResponse) Report {
	r := Report{RequestID: requestID, Total: len(results)}
	successes := 0
	for _, res := range results {
		matched := res.PatientMatch != nil && *res.PatientMatch
		if matched || res.OperationOutcome.HasCode(ihe.NotFoundCode) {
			successes++
			continue
		}
		r.Errors = append(r.Errors, GatewayError{OID: res.Gateway.OID, Error: issueDetails(res.OperationOutcome)})
	}
	r.setPercentages(successes)
	return r
}

// DocumentQueryReport counts a gateway as successful when it returned
// document references
func DocumentQueryReport(requestID string, results []*ihe.DocumentQueryResponse) Report {
	r := Report{RequestID: requestID, Total: len(results)}
	successes := 0
	for _, res := range results {
		if res.DocumentReference != nil {
			successes++
			continue
		}
		r.Errors = append(r.Errors, GatewayError{OID: res.Gateway.HomeCommunityID, Error: issueDetails(res.OperationOutcome)})
	}
	r.setPercentages(successes)
	return r
}

// DocumentRetrievalReport counts a gateway as successful when it returned
// document references
func DocumentRetrievalReport(requestID string, results []*ihe.DocumentRetrievalResponse) Report {
	r := Report{RequestID: requestID, Total: len(results)}
	successes := 0
	for _, res := range results {
		if res.DocumentReference != nil {
			successes++
			continue
		}
		r.Errors = append(r.Errors, GatewayError{OID: res.Gateway.HomeCommunityID, Error: issueDetails(res.OperationOutcome)})
	}
	r.setPercentages(successes)
	return r
}

func (r *Report) setPercentages(successes int) {
	if r.Total == 0 {
		return
	}
	r.SuccessPercentage = float64(successes) / float64(r.Total) * 100
	r.FailurePercentage = float64(r.Total-successes) / float64(r.Total) * 100
}

// issueDetails joins the JSON form of every issue's details
func issueDetails(outcome *ihe.OperationOutcome) string {
	if outcome == nil {
		return ""
	}
	parts := make([]string, 0, len(outcome.Issue))
	for _, issue := range outcome.Issue {
		data, err := json.Marshal(issue.Details)
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, ", ")
}

// Summarize averages the percentages of reports and groups their errors by
// gateway and details. An empty input yields zero averages.
func Summarize(reports []Report) Summary {
	s := Summary{
		Reports:      make([]Report, 0, len(reports)),
		ErrorDetails: make(map[string]ErrorDetail),
	}
	for _, r := range reports {
		s.AverageSuccessPercentage += r.SuccessPercentage
		s.AverageFailurePercentage += r.FailurePercentage
		for _, e := range r.Errors {
			key := e.OID + ":" + e.Error
			detail := s.ErrorDetails[key]
			detail.Count++
			detail.Details = e.Error
			s.ErrorDetails[key] = detail
		}
		r.Errors = nil
		s.Reports = append(s.Reports, r)
	}
	if n := len(reports); n > 0 {
		s.AverageSuccessPercentage /= float64(n)
		s.AverageFailurePercentage /= float64(n)
	}
	return s
}

// ErrorKeys returns the error detail keys ordered by descending count
func (s Summary) ErrorKeys() []string {
	keys := make([]string, 0, len(s.ErrorDetails))
	for k := range s.ErrorDetails {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := s.ErrorDetails[keys[i]].Count, s.ErrorDetails[keys[j]].Count
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	return keys
}
