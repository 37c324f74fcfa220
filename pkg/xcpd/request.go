package xcpd

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

// MedentURL is a responding gateway that rejects prefixed HL7 children
// in the request body.
const MedentURL = "https://www.medentcq.com:14430/MedentRespondingGateway-1.0-SNAPSHOT/RespondingGateway/xcpd-iti55"

// DefaultOrganizationName names the sender device's organization
const DefaultOrganizationName = "Metriport"

// HL7 code systems used in the request
const (
	interactionCodeSystem = "2.16.840.1.113883.1.6"
	genderCodeSystem      = "2.16.840.1.113883.5.1"
	npiCodeSystem         = "2.16.840.1.113883.4.6"
)

// hl7TimeLayout is the HL7 v3 TS format used for creationTime
const hl7TimeLayout = "20060102150405"

// Options configures request construction
type Options struct {
	// PublicCert is the PEM certificate asserted in the SAML header
	PublicCert string
	// OrganizationName defaults to DefaultOrganizationName
	OrganizationName string
	ReplyTo          string
	Issuer           string
	Validity         time.Duration
	// Hash selects the signature digest for BuildRequests
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

// SignedRequest is a signed ITI-55 envelope for one gateway
type SignedRequest struct {
	Gateway   ihe.XCPDGateway
	Request   *ihe.PatientDiscoveryRequest
	SignedXML string
}

// BuildRequest renders the unsigned ITI-55 envelope of req for gw
func BuildRequest(req *ihe.PatientDiscoveryRequest, gw ihe.XCPDGateway, opts Options) (string, error) {
	single := req.ForGateway(gw)
	if err := single.Validate(); err != nil {
		return "", err
	}

	created := opts.now()
	header, err := security.BuildSecurityHeader(security.HeaderParams{
		PublicCert: opts.PublicCert,
		Attributes: req.SamlAttributes,
		ToURL:      gw.URL,
		GatewayOID: gw.OID,
		Issuer:     opts.Issuer,
		Created:    created,
		Validity:   opts.Validity,
	})
	if err != nil {
		return "", fmt.Errorf("building security header: %w", err)
	}

	messageID := ihe.WrapURNUUID(req.ID)
	env := &soap.Envelope{
		To:        gw.URL,
		Action:    soap.ActionPatientDiscovery,
		MessageID: messageID,
		ReplyTo:   opts.ReplyTo,
		Security:  header,
		BodyAttr:  []etree.Attr{{Space: "xmlns", Key: "urn", Value: soap.NsHL7}},
		Body:      buildBody(single, gw, messageID, created, opts),
	}
	return env.String()
}

// BuildRequests builds and signs one envelope per gateway of req
func BuildRequests(req *ihe.PatientDiscoveryRequest, keys ihe.SamlCertsAndKeys, opts Options) ([]SignedRequest, error) {
	if opts.PublicCert == "" {
		opts.PublicCert = keys.PublicCert
	}
	signed := make([]SignedRequest, 0, len(req.Gateways))
	for _, gw := range req.Gateways {
		xml, err := BuildRequest(req, gw, opts)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %w", gw.OID, err)
		}
		out, err := security.SignFull(xml, keys, opts.Hash)
		if err != nil {
			return nil, fmt.Errorf("signing request for %s: %w", gw.OID, err)
		}
		signed = append(signed, SignedRequest{Gateway: gw, Request: req.ForGateway(gw), SignedXML: out})
	}
	return signed, nil
}

// hl7 creates HL7 elements with or without the urn: prefix
type hl7 string

func (p hl7) el(parent *etree.Element, tag string, attrs ...string) *etree.Element {
	e := parent.CreateElement(string(p) + tag)
	for i := 0; i+1 < len(attrs); i += 2 {
		e.CreateAttr(attrs[i], attrs[i+1])
	}
	return e
}

func (p hl7) text(parent *etree.Element, tag, value string) {
	if value != "" {
		p.el(parent, tag).SetText(value)
	}
}

func buildBody(req *ihe.PatientDiscoveryRequest, gw ihe.XCPDGateway, messageID string, created time.Time, opts Options) *etree.Element {
	p := hl7("urn:")
	if gw.URL == MedentURL {
		p = ""
	}
	hcid := req.SamlAttributes.HomeCommunityID
	orgName := opts.OrganizationName
	if orgName == "" {
		orgName = DefaultOrganizationName
	}

	root := etree.NewElement("urn:PRPA_IN201305UV02")
	root.CreateAttr("ITSVersion", "XML_1.0")
	p.el(root, "id", "extension", messageID, "root", hcid)
	p.el(root, "creationTime", "value", created.UTC().Format(hl7TimeLayout))
	p.el(root, "interactionId", "extension", "PRPA_IN201305UV02", "root", interactionCodeSystem)
	p.el(root, "processingCode", "code", "P")
	p.el(root, "processingModeCode", "code", "T")
	p.el(root, "acceptAckCode", "code", "AL")

	receiver := p.el(p.el(root, "receiver", "typeCode", "RCV"), "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	p.el(receiver, "id", "root", gw.OID)
	p.el(receiver, "telecom", "value", gw.URL)
	receiverOrg := p.el(p.el(receiver, "asAgent", "classCode", "AGNT"), "representedOrganization", "classCode", "ORG", "determinerCode", "INSTANCE")
	p.el(receiverOrg, "id", "root", gw.OID)

	sender := p.el(p.el(root, "sender", "typeCode", "SND"), "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	p.el(sender, "id", "root", hcid)
	senderOrg := p.el(p.el(sender, "asAgent", "classCode", "AGNT"), "representedOrganization", "classCode", "ORG", "determinerCode", "INSTANCE")
	p.el(senderOrg, "id", "root", hcid)
	p.text(senderOrg, "name", orgName)

	control := p.el(root, "controlActProcess", "classCode", "CACT", "moodCode", "EVN")
	p.el(control, "code", "code", "PRPA_TE201305UV02", "codeSystem", interactionCodeSystem)
	query := p.el(control, "queryByParameter")
	p.el(query, "queryId", "extension", messageID, "root", hcid)
	p.el(query, "statusCode", "code", "new")
	p.el(query, "responseModalityCode", "code", "R")
	p.el(query, "responsePriorityCode", "code", "I")

	buildParameterList(p, p.el(query, "parameterList"), req)
	return root
}

func buildParameterList(p hl7, params *etree.Element, req *ihe.PatientDiscoveryRequest) {
	patient := req.PatientResource

	gender := p.el(params, "livingSubjectAdministrativeGender")
	p.el(gender, "value", "code", hl7Gender(patient.Gender), "codeSystem", genderCodeSystem)
	p.text(gender, "semanticsText", "LivingSubject.administrativeGender")

	birth := p.el(params, "livingSubjectBirthTime")
	p.el(birth, "value", "value", strings.ReplaceAll(patient.BirthDate, "-", ""))
	p.text(birth, "semanticsText", "LivingSubject.birthTime")

	name := p.el(params, "livingSubjectName")
	nameValue := p.el(name, "value")
	if len(patient.Name) > 0 {
		p.text(nameValue, "family", patient.Name[0].Family)
		if len(patient.Name[0].Given) > 0 {
			p.text(nameValue, "given", patient.Name[0].Given[0])
		}
	}
	p.text(name, "semanticsText", "LivingSubject.name")

	if len(patient.Address) > 0 {
		addr := patient.Address[0]
		elem := p.el(params, "patientAddress")
		value := p.el(elem, "value")
		p.text(value, "streetAddressLine", strings.Join(addr.Line, ", "))
		p.text(value, "city", addr.City)
		p.text(value, "state", addr.State)
		p.text(value, "postalCode", addr.PostalCode)
		p.text(value, "country", addr.Country)
		p.text(elem, "semanticsText", "Patient.addr")
	}

	if len(patient.Telecom) > 0 && patient.Telecom[0].Value != "" {
		elem := p.el(params, "patientTelecom")
		p.el(elem, "value", "use", "HP", "value", patient.Telecom[0].Value)
		p.text(elem, "semanticsText", "Patient.telecom")
	}

	if len(req.PrincipalCareProviderIDs) > 0 && req.PrincipalCareProviderIDs[0] != "" {
		elem := p.el(params, "principalCareProviderId")
		p.el(elem, "value", "extension", req.PrincipalCareProviderIDs[0], "root", npiCodeSystem)
		p.text(elem, "semanticsText", "AssignedProvider.id")
	}
}

// hl7Gender maps an administrative gender to the HL7 code sent on the
// wire. Only female is distinguished; everything else is sent as M.
func hl7Gender(gender string) string {
	if gender == "female" {
		return "F"
	}
	return "M"
}

// fhirGender maps an HL7 gender code back to an administrative gender
func fhirGender(code string) string {
	switch strings.ToUpper(code) {
	case "M":
		return "male"
	case "F":
		return "female"
	}
	return "unknown"
}
