package ihe

import "log/slog"

// XCPDGateway is a remote Patient Discovery endpoint
type XCPDGateway struct {
	ID  string `json:"id,omitempty"`
	OID string `json:"oid"`
	URL string `json:"url"`
}

// XCAGateway is a remote Document Query/Retrieve endpoint
type XCAGateway struct {
	ID              string `json:"id,omitempty"`
	HomeCommunityID string `json:"homeCommunityId"`
	URL             string `json:"url"`
}

// Code is a coded value with an optional display name
type Code struct {
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// Coding is a code qualified by its code system
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// SamlAttributes are asserted in the SAML AttributeStatement of every
// outbound request.
type SamlAttributes struct {
	SubjectID        string `json:"subjectId"`
	SubjectRole      Code   `json:"subjectRole"`
	Organization     string `json:"organization"`
	OrganizationID   string `json:"organizationId"`
	HomeCommunityID  string `json:"homeCommunityId"`
	PurposeOfUse     string `json:"purposeOfUse"`
	QueryAuthGrantor string `json:"queryAuthGrantor,omitempty"`
}

// SamlCertsAndKeys is the identity used for the SAML assertion and for
// TLS client authentication. All fields are PEM encoded.
type SamlCertsAndKeys struct {
	PublicCert         string
	CertChain          string
	PrivateKey         string
	PrivateKeyPassword string
}

// LogValue keeps key material out of structured logs
func (SamlCertsAndKeys) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// String keeps key material out of fmt output
func (SamlCertsAndKeys) String() string {
	return "[REDACTED]"
}

// GoString keeps key material out of %#v output
func (SamlCertsAndKeys) GoString() string {
	return "[REDACTED]"
}

// Name is a patient name
type Name struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Address is a patient postal address
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// Telecom is a phone number or email address
type Telecom struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Identifier is a patient identifier in an assigning authority
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Patient holds the demographics used for patient discovery
type Patient struct {
	Name       []Name       `json:"name,omitempty"`
	Gender     string       `json:"gender,omitempty"`
	BirthDate  string       `json:"birthDate,omitempty"`
	Address    []Address    `json:"address,omitempty"`
	Telecom    []Telecom    `json:"telecom,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
}

// ExternalGatewayPatient is the patient's identifier at a remote gateway
type ExternalGatewayPatient struct {
	ID     string `json:"id"`
	System string `json:"system"`
}

// DateRange bounds a document query filter
type DateRange struct {
	DateFrom string `json:"dateFrom,omitempty"`
	DateTo   string `json:"dateTo,omitempty"`
}

// PatientDiscoveryRequest is an outbound ITI-55 request fanned out to
// one or more gateways.
type PatientDiscoveryRequest struct {
	ID                       string         `json:"id"`
	CxID                     string         `json:"cxId"`
	PatientID                string         `json:"patientId"`
	Timestamp                string         `json:"timestamp"`
	SamlAttributes           SamlAttributes `json:"samlAttributes"`
	PrincipalCareProviderIDs []string       `json:"principalCareProviderIds,omitempty"`
	PatientResource          Patient        `json:"patientResource"`
	Gateways                 []XCPDGateway  `json:"gateways"`
}

// ForGateway returns a copy of the request targeting a single gateway
func (r *PatientDiscoveryRequest) ForGateway(gw XCPDGateway) *PatientDiscoveryRequest {
	single := *r
	single.Gateways = []XCPDGateway{gw}
	return &single
}

// DocumentQueryRequest is an outbound ITI-38 request
type DocumentQueryRequest struct {
	ID                     string                 `json:"id"`
	CxID                   string                 `json:"cxId"`
	PatientID              string                 `json:"patientId"`
	Timestamp              string                 `json:"timestamp"`
	SamlAttributes         SamlAttributes         `json:"samlAttributes"`
	Gateway                XCAGateway             `json:"gateway"`
	ExternalGatewayPatient ExternalGatewayPatient `json:"externalGatewayPatient"`
	ClassCode              *Coding                `json:"classCode,omitempty"`
	PracticeSettingCode    *Coding                `json:"practiceSettingCode,omitempty"`
	FacilityTypeCode       *Coding                `json:"facilityTypeCode,omitempty"`
	ServiceDate            *DateRange             `json:"serviceDate,omitempty"`
	DocumentCreationDate   *DateRange             `json:"documentCreationDate,omitempty"`
}

// DocumentRetrievalRequest is an outbound ITI-39 request
type DocumentRetrievalRequest struct {
	ID                string              `json:"id"`
	CxID              string              `json:"cxId"`
	PatientID         string              `json:"patientId"`
	Timestamp         string              `json:"timestamp"`
	RequestChunkID    string              `json:"requestChunkId,omitempty"`
	SamlAttributes    SamlAttributes      `json:"samlAttributes"`
	Gateway           XCAGateway          `json:"gateway"`
	DocumentReference []DocumentReference `json:"documentReference"`
}

// DocumentReference identifies a document at a remote repository. On
// requests only the identifiers and CorrelationID are set; results carry
// metadata and, for retrieval, the stored location.
type DocumentReference struct {
	HomeCommunityID    string `json:"homeCommunityId"`
	RepositoryUniqueID string `json:"repositoryUniqueId"`
	DocUniqueID        string `json:"docUniqueId"`
	CorrelationID      string `json:"metriportId,omitempty"`

	ContentType       string `json:"contentType,omitempty"`
	Size              *int   `json:"size,omitempty"`
	Title             string `json:"title,omitempty"`
	Creation          string `json:"creation,omitempty"`
	Language          string `json:"language,omitempty"`
	ServiceStartTime  string `json:"serviceStartTime,omitempty"`
	ServiceStopTime   string `json:"serviceStopTime,omitempty"`
	AuthorPerson      string `json:"authorPerson,omitempty"`
	AuthorInstitution string `json:"authorInstitution,omitempty"`

	ClassCode           *Coding `json:"classCoding,omitempty"`
	TypeCode            *Coding `json:"typeCoding,omitempty"`
	FormatCode          *Coding `json:"formatCoding,omitempty"`
	ConfidentialityCode *Coding `json:"confidentialityCoding,omitempty"`
	PracticeSettingCode *Coding `json:"practiceSettingCoding,omitempty"`
	FacilityTypeCode    *Coding `json:"healthcareFacilityTypeCoding,omitempty"`

	URL          string `json:"url,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileLocation string `json:"fileLocation,omitempty"`
	IsNew        bool   `json:"isNew,omitempty"`

	NewDocumentUniqueID   string `json:"newDocumentUniqueId,omitempty"`
	NewRepositoryUniqueID string `json:"newRepositoryUniqueId,omitempty"`
}

// ResponseMeta is common to every transaction response
type ResponseMeta struct {
	ID                string            `json:"id"`
	PatientID         string            `json:"patientId"`
	Timestamp         string            `json:"timestamp"`
	RequestTimestamp  string            `json:"requestTimestamp,omitempty"`
	ResponseTimestamp string            `json:"responseTimestamp"`
	OperationOutcome  *OperationOutcome `json:"operationOutcome,omitempty"`
	IHEGatewayV2      bool              `json:"iheGatewayV2"`
}

// Outcome returns the response's OperationOutcome, nil on success
func (m *ResponseMeta) Outcome() *OperationOutcome {
	return m.OperationOutcome
}

// PatientDiscoveryResponse is the result of ITI-55 against one gateway.
// PatientMatch is nil for every error state and never confused with an
// explicit no-match.
type PatientDiscoveryResponse struct {
	ResponseMeta
	Gateway                XCPDGateway             `json:"gateway"`
	PatientMatch           *bool                   `json:"patientMatch"`
	PatientResource        *Patient                `json:"patientResource,omitempty"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
	GatewayHomeCommunityID string                  `json:"gatewayHomeCommunityId,omitempty"`
}

// DocumentQueryResponse is the result of ITI-38 against one gateway
type DocumentQueryResponse struct {
	ResponseMeta
	Gateway                XCAGateway              `json:"gateway"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
	DocumentReference      []DocumentReference     `json:"documentReference"`
}

// DocumentRetrievalResponse is the result of ITI-39 against one gateway
type DocumentRetrievalResponse struct {
	ResponseMeta
	Gateway           XCAGateway          `json:"gateway"`
	RequestChunkID    string              `json:"requestChunkId,omitempty"`
	DocumentReference []DocumentReference `json:"documentReference"`
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}
