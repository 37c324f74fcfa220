package ihe

// Issue severities
const (
	SeverityError       = "error"
	SeverityInformation = "information"
)

// Issue codes shared by all transactions
const (
	HTTPErrorCode   = "http-error"
	SchemaErrorCode = "schema-error"
	NoDocumentsCode = "no-documents-found"
	NotFoundCode    = "not-found"

	// CodeSystemError qualifies ebXML registry error codes
	CodeSystemError = "1.3.6.1.4.1.19376.1.2.27.3"
)

// OperationOutcome is the error shape shared by every transaction
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id"`
	Issue        []Issue `json:"issue"`
}

// Issue is one entry of an OperationOutcome
type Issue struct {
	Severity string  `json:"severity"`
	Code     string  `json:"code"`
	Details  Details `json:"details"`
}

// Details explains an Issue
type Details struct {
	Text   string   `json:"text,omitempty"`
	Coding []Coding `json:"coding,omitempty"`
}

// RegistryError is one ebXML RegistryError entry
type RegistryError struct {
	ErrorCode   string
	CodeContext string
	Severity    string
	Location    string
}

func newOutcome(id string, issues ...Issue) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		ID:           id,
		Issue:        issues,
	}
}

// HTTPError reports a transport failure before any response existed
func HTTPError(id, text string) *OperationOutcome {
	return newOutcome(id, Issue{
		Severity: SeverityError,
		Code:     HTTPErrorCode,
		Details:  Details{Text: text},
	})
}

// SchemaError reports a response that could not be understood
func SchemaError(id, text string) *OperationOutcome {
	return newOutcome(id, Issue{
		Severity: SeverityError,
		Code:     SchemaErrorCode,
		Details:  Details{Text: text},
	})
}

// NoDocuments reports an empty but successful query or retrieval
func NoDocuments(id string) *OperationOutcome {
	return newOutcome(id, Issue{
		Severity: SeverityInformation,
		Code:     NoDocumentsCode,
		Details:  Details{Text: "No documents found"},
	})
}

// NotFound reports an explicit XCPD no-match
func NotFound(id string) *OperationOutcome {
	return newOutcome(id, Issue{
		Severity: SeverityInformation,
		Code:     NotFoundCode,
		Details:  Details{Text: "NF"},
	})
}

// RegistryErrors maps ebXML RegistryError entries to issues
func RegistryErrors(id string, errs []RegistryError) *OperationOutcome {
	issues := make([]Issue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     e.ErrorCode,
			Details: Details{
				Text:   e.CodeContext,
				Coding: []Coding{{System: CodeSystemError, Code: e.ErrorCode}},
			},
		})
	}
	return newOutcome(id, issues...)
}

// SOAPFault reports a SOAP Fault. The issue code is the fault code text.
func SOAPFault(id, code, reason string) *OperationOutcome {
	return newOutcome(id, Issue{
		Severity: SeverityError,
		Code:     code,
		Details:  Details{Text: reason},
	})
}

// AcknowledgementError reports an XCPD application error carried in
// acknowledgementDetail.
func AcknowledgementError(id, code, codeSystem, text string) *OperationOutcome {
	details := Details{Text: text}
	if code != "" {
		details.Coding = []Coding{{System: codeSystem, Code: code}}
	}
	issueCode := code
	if issueCode == "" {
		issueCode = "processing"
	}
	return newOutcome(id, Issue{
		Severity: SeverityError,
		Code:     issueCode,
		Details:  details,
	})
}

// HasCode reports whether any issue carries the given code
func (o *OperationOutcome) HasCode(code string) bool {
	if o == nil {
		return false
	}
	for _, issue := range o.Issue {
		if issue.Code == code {
			return true
		}
	}
	return false
}
