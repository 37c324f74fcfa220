package xca

import (
	"crypto"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/security"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

// FindDocumentsQueryID is the stored query id of FindDocuments
const FindDocumentsQueryID = "urn:uuid:14d4debf-8f97-4251-9a74-a90016b0af0d"

// Document entry types requested by every query
const (
	StableDocumentType   = "urn:uuid:7edca82f-054d-47f2-a032-9b2a5b5186c1"
	OnDemandDocumentType = "urn:uuid:34268e47-fdf5-41a6-ba33-82133c465248"
)

const (
	approvedStatus = "urn:oasis:names:tc:ebxml-regrep:StatusType:Approved"
	queryLID       = "urn:oasis:names:tc:ebxml-regrep:query:AdhocQueryRequest"
	slotTimeLayout = "20060102150405"
)

// FindDocuments slot names
const (
	SlotPatientID                  = "$XDSDocumentEntryPatientId"
	SlotStatus                     = "$XDSDocumentEntryStatus"
	SlotClassCode                  = "$XDSDocumentEntryClassCode"
	SlotPracticeSettingCode        = "$XDSDocumentEntryPracticeSettingCode"
	SlotHealthcareFacilityTypeCode = "$XDSDocumentEntryHealthcareFacilityTypeCode"
	SlotServiceStartTimeFrom       = "$XDSDocumentEntryServiceStartTimeFrom"
	SlotServiceStartTimeTo         = "$XDSDocumentEntryServiceStartTimeTo"
	SlotCreationTimeFrom           = "$XDSDocumentEntryCreationTimeFrom"
	SlotCreationTimeTo             = "$XDSDocumentEntryCreationTimeTo"
	SlotType                       = "$XDSDocumentEntryType"
)

// Options configures request construction
type Options struct {
	// PublicCert is the PEM certificate asserted in the SAML header
	PublicCert string
	ReplyTo    string
	Issuer     string
	Validity   time.Duration
	// Hash selects the signature digest when signing
	Hash crypto.Hash
	// Now defaults to time.Now
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// SignedQuery is a signed ITI-38 envelope
type SignedQuery struct {
	Gateway   ihe.XCAGateway
	Request   *ihe.DocumentQueryRequest
	SignedXML string
}

// SignedRetrieve is a signed ITI-39 envelope. It still has to be wrapped
// in an MTOM payload before sending.
type SignedRetrieve struct {
	Gateway   ihe.XCAGateway
	Request   *ihe.DocumentRetrievalRequest
	SignedXML string
}

func (o Options) envelope(attrs ihe.SamlAttributes, gw ihe.XCAGateway, id, action string) (*soap.Envelope, error) {
	header, err := security.BuildSecurityHeader(security.HeaderParams{
		PublicCert: o.PublicCert,
		Attributes: attrs,
		ToURL:      gw.URL,
		GatewayOID: gw.HomeCommunityID,
		Issuer:     o.Issuer,
		Created:    o.now(),
		Validity:   o.Validity,
	})
	if err != nil {
		return nil, fmt.Errorf("building security header: %w", err)
	}
	return &soap.Envelope{
		To:        gw.URL,
		Action:    action,
		MessageID: ihe.WrapURNUUID(id),
		ReplyTo:   o.ReplyTo,
		Security:  header,
	}, nil
}

// BuildQueryRequest renders the unsigned ITI-38 FindDocuments envelope
func BuildQueryRequest(req *ihe.DocumentQueryRequest, opts Options) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	slots, err := querySlots(req)
	if err != nil {
		return "", err
	}

	env, err := opts.envelope(req.SamlAttributes, req.Gateway, req.ID, soap.ActionCrossGatewayQuery)
	if err != nil {
		return "", err
	}
	env.BodyAttr = []etree.Attr{
		{Space: "xmlns", Key: "urn", Value: soap.NsQuery},
		{Space: "xmlns", Key: "urn2", Value: soap.NsRIM},
	}

	body := etree.NewElement("urn:AdhocQueryRequest")
	body.CreateAttr("federated", "false")
	body.CreateAttr("id", ihe.WrapURNUUID(req.ID))
	body.CreateAttr("maxResults", "-1")
	body.CreateAttr("startIndex", "0")
	body.CreateElement("urn:ResponseOption").CreateAttr("returnType", "LeafClass")

	query := body.CreateElement("urn2:AdhocQuery")
	query.CreateAttr("home", req.Gateway.HomeCommunityID)
	query.CreateAttr("id", FindDocumentsQueryID)
	query.CreateAttr("lid", queryLID)
	// objectType and status carry the rim namespace, as responding
	// gateways have been accepting it
	query.CreateAttr("objectType", soap.NsRIM)
	query.CreateAttr("status", soap.NsRIM)
	for _, s := range slots {
		slot := query.CreateElement("urn2:Slot")
		slot.CreateAttr("name", s.name)
		if s.slotType != "" {
			slot.CreateAttr("slotType", s.slotType)
		}
		slot.CreateElement("urn2:ValueList").CreateElement("urn2:Value").SetText(s.value)
	}
	env.Body = body
	return env.String()
}

type slot struct {
	name, slotType, value string
}

func querySlots(req *ihe.DocumentQueryRequest) ([]slot, error) {
	patient := req.ExternalGatewayPatient
	slots := []slot{
		{SlotPatientID, "rim:StringValueType", fmt.Sprintf("'%s^^^&%s&ISO'", patient.ID, patient.System)},
		{SlotStatus, "", "('" + approvedStatus + "')"},
	}

	for _, c := range []struct {
		name   string
		coding *ihe.Coding
	}{
		{SlotClassCode, req.ClassCode},
		{SlotPracticeSettingCode, req.PracticeSettingCode},
		{SlotHealthcareFacilityTypeCode, req.FacilityTypeCode},
	} {
		if c.coding != nil && c.coding.Code != "" && c.coding.System != "" {
			slots = append(slots, slot{name: c.name, value: fmt.Sprintf("('%s^^%s')", c.coding.Code, c.coding.System)})
		}
	}

	for _, d := range []struct {
		name, field string
		value       func() string
	}{
		{SlotServiceStartTimeFrom, "serviceDate.dateFrom", func() string { return rangeFrom(req.ServiceDate) }},
		{SlotServiceStartTimeTo, "serviceDate.dateTo", func() string { return rangeTo(req.ServiceDate) }},
		{SlotCreationTimeFrom, "documentCreationDate.dateFrom", func() string { return rangeFrom(req.DocumentCreationDate) }},
		{SlotCreationTimeTo, "documentCreationDate.dateTo", func() string { return rangeTo(req.DocumentCreationDate) }},
	} {
		raw := d.value()
		if raw == "" {
			continue
		}
		formatted, err := slotTime(raw)
		if err != nil {
			return nil, &ihe.ValidationError{Field: d.field, Reason: fmt.Sprintf("is not a date: %q", raw)}
		}
		slots = append(slots, slot{name: d.name, value: formatted})
	}

	slots = append(slots, slot{name: SlotType, value: "(" + StableDocumentType + "," + OnDemandDocumentType + ")"})
	return slots, nil
}

func rangeFrom(r *ihe.DateRange) string {
	if r == nil {
		return ""
	}
	return r.DateFrom
}

func rangeTo(r *ihe.DateRange) string {
	if r == nil {
		return ""
	}
	return r.DateTo
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// slotTime formats an ISO date as an HL7 TS in UTC
func slotTime(value string) (string, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC().Format(slotTimeLayout), nil
		}
	}
	return "", err
}

// BuildRetrieveRequest renders the unsigned ITI-39 envelope with one
// DocumentRequest per document reference.
func BuildRetrieveRequest(req *ihe.DocumentRetrievalRequest, opts Options) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	env, err := opts.envelope(req.SamlAttributes, req.Gateway, req.ID, soap.ActionCrossGatewayRetrieve)
	if err != nil {
		return "", err
	}

	body := etree.NewElement("xdsb:RetrieveDocumentSetRequest")
	body.CreateAttr("xmlns:xdsb", soap.NsXDSB)
	for _, ref := range req.DocumentReference {
		hcid := ref.HomeCommunityID
		if hcid == "" {
			hcid = req.Gateway.HomeCommunityID
		}
		doc := body.CreateElement("xdsb:DocumentRequest")
		doc.CreateElement("xdsb:HomeCommunityId").SetText(ihe.WrapURNOID(hcid))
		doc.CreateElement("xdsb:RepositoryUniqueId").SetText(ref.RepositoryUniqueID)
		doc.CreateElement("xdsb:DocumentUniqueId").SetText(ref.DocUniqueID)
	}
	env.Body = body
	return env.String()
}

// SignQueryRequest builds and signs one ITI-38 envelope
func SignQueryRequest(req *ihe.DocumentQueryRequest, keys ihe.SamlCertsAndKeys, opts Options) (*SignedQuery, error) {
	if opts.PublicCert == "" {
		opts.PublicCert = keys.PublicCert
	}
	xml, err := BuildQueryRequest(req, opts)
	if err != nil {
		return nil, err
	}
	signed, err := security.SignFull(xml, keys, opts.Hash)
	if err != nil {
		return nil, fmt.Errorf("signing query for %s: %w", req.Gateway.HomeCommunityID, err)
	}
	return &SignedQuery{Gateway: req.Gateway, Request: req, SignedXML: signed}, nil
}

// SignQueryRequests signs one envelope per request
func SignQueryRequests(reqs []*ihe.DocumentQueryRequest, keys ihe.SamlCertsAndKeys, opts Options) ([]SignedQuery, error) {
	out := make([]SignedQuery, 0, len(reqs))
	for _, req := range reqs {
		s, err := SignQueryRequest(req, keys, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// SignRetrieveRequest builds and signs one ITI-39 envelope
func SignRetrieveRequest(req *ihe.DocumentRetrievalRequest, keys ihe.SamlCertsAndKeys, opts Options) (*SignedRetrieve, error) {
	if opts.PublicCert == "" {
		opts.PublicCert = keys.PublicCert
	}
	xml, err := BuildRetrieveRequest(req, opts)
	if err != nil {
		return nil, err
	}
	signed, err := security.SignFull(xml, keys, opts.Hash)
	if err != nil {
		return nil, fmt.Errorf("signing retrieve for %s: %w", req.Gateway.HomeCommunityID, err)
	}
	return &SignedRetrieve{Gateway: req.Gateway, Request: req, SignedXML: signed}, nil
}

// SignRetrieveRequests signs one envelope per request
func SignRetrieveRequests(reqs []*ihe.DocumentRetrievalRequest, keys ihe.SamlCertsAndKeys, opts Options) ([]SignedRetrieve, error) {
	out := make([]SignedRetrieve, 0, len(reqs))
	for _, req := range reqs {
		s, err := SignRetrieveRequest(req, keys, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}
