package xcpd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/security"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

var (
	ErrNotPatientDiscovery = errors.New("not a PRPA_IN201305UV02 request")
	ErrMissingPatient      = errors.New("matched response without patient resource or external gateway patient")
)

// custodianCodeSystem qualifies the NotHealthDataLocator custodian code
const custodianCodeSystem = "1.3.6.1.4.1.19376.1.2.27.2"

// InboundRequest is an ITI-55 request received from another gateway
type InboundRequest struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	// Timestamp is the request's creationTime as sent
	Timestamp             string             `json:"timestamp"`
	SamlAttributes        ihe.SamlAttributes `json:"samlAttributes"`
	PatientResource       ihe.Patient        `json:"patientResource"`
	SignatureConfirmation string             `json:"signatureConfirmation,omitempty"`
}

// ParseInboundRequest extracts the query and SAML attributes of a
// PRPA_IN201305UV02 envelope.
func ParseInboundRequest(data []byte) (*InboundRequest, error) {
	doc, err := soap.Parse(data)
	if err != nil {
		return nil, err
	}
	profile := doc.FindElement("//Body/PRPA_IN201305UV02")
	if profile == nil {
		return nil, ErrNotPatientDiscovery
	}
	query := profile.FindElement("./controlActProcess/queryByParameter")
	if query == nil {
		return nil, fmt.Errorf("%w: missing queryByParameter", ErrNotPatientDiscovery)
	}

	req := &InboundRequest{
		ID:                    ihe.StripURNPrefix(soap.AttrValue(query, "./queryId", "extension")),
		MessageID:             soap.Text(doc.Root(), "./Header/MessageID"),
		Timestamp:             soap.AttrValue(profile, "./creationTime", "value"),
		SamlAttributes:        security.ParseAttributes(doc.FindElement("//Header/Security/Assertion")),
		SignatureConfirmation: soap.Text(doc.Root(), "./Header/Security//Signature/SignatureValue"),
	}
	if req.ID == "" {
		req.ID = ihe.StripURNPrefix(soap.AttrValue(profile, "./id", "extension"))
	}
	if req.SamlAttributes.HomeCommunityID == "" {
		req.SamlAttributes.HomeCommunityID = ihe.StripURNPrefix(soap.AttrValue(query, "./queryId", "root"))
	}

	params := query.SelectElement("parameterList")
	if params == nil {
		return req, nil
	}
	patient := &req.PatientResource
	patient.Gender = fhirGender(soap.AttrValue(params, "./livingSubjectAdministrativeGender/value", "code"))
	patient.BirthDate = soap.AttrValue(params, "./livingSubjectBirthTime/value", "value")

	for _, v := range params.FindElements("./livingSubjectName/value") {
		name := ihe.Name{Family: soap.Text(v, "./family")}
		for _, g := range v.SelectElements("given") {
			name.Given = append(name.Given, strings.TrimSpace(g.Text()))
		}
		patient.Name = append(patient.Name, name)
	}
	for _, v := range params.FindElements("./patientAddress/value") {
		if addr, ok := parseAddress(v); ok {
			patient.Address = append(patient.Address, addr)
		}
	}
	for _, v := range params.FindElements("./patientTelecom/value") {
		patient.Telecom = append(patient.Telecom, ihe.Telecom{
			System: v.SelectAttrValue("use", ""),
			Value:  v.SelectAttrValue("value", ""),
		})
	}
	for _, v := range params.FindElements("./livingSubjectId/value") {
		patient.Identifier = append(patient.Identifier, ihe.Identifier{
			System: v.SelectAttrValue("root", ""),
			Value:  v.SelectAttrValue("extension", ""),
		})
	}
	return req, nil
}

// InboundOptions configures BuildInboundResponse
type InboundOptions struct {
	// HomeCommunityID identifies this responding gateway
	HomeCommunityID string
	Validity        time.Duration
	Now             func() time.Time
}

// BuildInboundResponse renders the PRPA_IN201306UV02 answer to req. A nil
// PatientMatch is answered as an application error.
func BuildInboundResponse(req *InboundRequest, resp *ihe.PatientDiscoveryResponse, opts InboundOptions) (string, error) {
	if resp.PatientMatch != nil && *resp.PatientMatch &&
		(resp.PatientResource == nil || resp.ExternalGatewayPatient == nil) {
		return "", ErrMissingPatient
	}

	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}
	validity := opts.Validity
	if validity <= 0 {
		validity = security.DefaultValidity
	}

	sec := etree.NewElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", soap.NsWSSE)
	sec.CreateAttr("xmlns:wsu", soap.NsWSU)
	ts := sec.CreateElement("wsu:Timestamp")
	ts.CreateElement("wsu:Created").SetText(ihe.FormatTimestamp(now))
	ts.CreateElement("wsu:Expires").SetText(ihe.FormatTimestamp(now.Add(validity)))
	if req.SignatureConfirmation != "" {
		confirmation := sec.CreateElement("wsse11:SignatureConfirmation")
		confirmation.CreateAttr("xmlns:wsse11", soap.NsWSSE11)
		confirmation.CreateAttr("Value", req.SignatureConfirmation)
	}

	relatesTo := req.MessageID
	if relatesTo == "" {
		relatesTo = ihe.WrapURNUUID(req.ID)
	}
	env := &soap.Envelope{
		Action:    soap.ActionPatientDiscoveryResponse,
		RelatesTo: relatesTo,
		Security:  sec,
		BodyAttr: []etree.Attr{
			{Key: "xmlns", Value: soap.NsHL7},
			{Space: "xmlns", Key: "xsd", Value: soap.NsXSD},
			{Space: "xmlns", Key: "xsi", Value: soap.NsXSI},
		},
		Body: buildInboundBody(req, resp, opts.HomeCommunityID, now),
	}
	return env.String()
}

func ackCodes(match *bool) (ack, queryCode string) {
	switch {
	case match == nil:
		return AckError, QueryError
	case *match:
		return AckAccept, QueryOK
	default:
		return AckAccept, QueryNotFound
	}
}

func buildInboundBody(req *InboundRequest, resp *ihe.PatientDiscoveryResponse, hcid string, now time.Time) *etree.Element {
	var p hl7
	ack, queryCode := ackCodes(resp.PatientMatch)

	root := etree.NewElement("PRPA_IN201306UV02")
	root.CreateAttr("ITSVersion", "XML_1.0")
	p.el(root, "id", "root", uuid.NewString())
	p.el(root, "creationTime", "value", now.UTC().Format(hl7TimeLayout))
	p.el(root, "interactionId", "extension", "PRPA_IN201306UV02", "root", interactionCodeSystem)
	p.el(root, "processingCode", "code", "P")
	p.el(root, "processingModeCode", "code", "T")
	p.el(root, "acceptAckCode", "code", "NE")

	p.el(p.el(root, "receiver", "typeCode", "RCV"), "device", "classCode", "DEV", "determinerCode", "INSTANCE").
		CreateElement("id").CreateAttr("root", req.SamlAttributes.HomeCommunityID)
	p.el(p.el(root, "sender", "typeCode", "SND"), "device", "classCode", "DEV", "determinerCode", "INSTANCE").
		CreateElement("id").CreateAttr("root", hcid)

	acknowledgement := p.el(root, "acknowledgement")
	p.el(acknowledgement, "typeCode", "code", ack)
	p.el(p.el(acknowledgement, "targetMessage"), "id", "extension", req.ID, "root", req.SamlAttributes.HomeCommunityID)
	if o := resp.OperationOutcome; o != nil && len(o.Issue) > 0 && resp.PatientMatch == nil {
		detail := p.el(acknowledgement, "acknowledgementDetail", "typeCode", "E")
		issue := o.Issue[0]
		if len(issue.Details.Coding) > 0 {
			p.el(detail, "code", "code", issue.Details.Coding[0].Code, "codeSystem", issue.Details.Coding[0].System)
		}
		p.text(detail, "text", issue.Details.Text)
	}

	control := p.el(root, "controlActProcess", "classCode", "CACT", "moodCode", "EVN")
	p.el(control, "code", "code", "PRPA_TE201306UV02", "codeSystem", interactionCodeSystem)
	p.el(p.el(control, "authorOrPerformer", "typeCode", "AUT"), "assignedDevice", "classCode", "ASSIGNED").
		CreateElement("id").CreateAttr("root", hcid)

	if resp.PatientMatch != nil && *resp.PatientMatch {
		buildSubject(p, control, resp, hcid)
	}

	buildQueryByParameter(p, control, req)

	queryAck := p.el(control, "queryAck")
	p.el(queryAck, "queryId", "extension", req.ID, "root", req.SamlAttributes.HomeCommunityID)
	p.el(queryAck, "statusCode", "code", "deliveredResponse")
	p.el(queryAck, "queryResponseCode", "code", queryCode)
	return root
}

func buildSubject(p hl7, control *etree.Element, resp *ihe.PatientDiscoveryResponse, hcid string) {
	subject := p.el(control, "subject", "typeCode", "SBJ", "contextConductionInd", "false")
	event := p.el(subject, "registrationEvent", "classCode", "REG", "moodCode", "EVN")
	p.el(event, "statusCode", "code", "active")

	patient := p.el(p.el(event, "subject1", "typeCode", "SBJ"), "patient", "classCode", "PAT")
	p.el(patient, "id", "extension", resp.ExternalGatewayPatient.ID, "root", resp.ExternalGatewayPatient.System)
	p.el(patient, "statusCode", "code", "active")

	person := p.el(patient, "patientPerson", "classCode", "PSN", "determinerCode", "INSTANCE")
	res := resp.PatientResource
	for _, n := range res.Name {
		name := p.el(person, "name")
		for _, g := range n.Given {
			p.text(name, "given", g)
		}
		p.text(name, "family", n.Family)
	}
	for _, t := range res.Telecom {
		p.el(person, "telecom", "use", t.System, "value", t.Value)
	}
	p.el(person, "administrativeGenderCode", "code", hl7GenderCode(res.Gender))
	p.el(person, "birthTime", "value", strings.ReplaceAll(res.BirthDate, "-", ""))
	for _, a := range res.Address {
		addr := p.el(person, "addr")
		for _, line := range a.Line {
			p.text(addr, "streetAddressLine", line)
		}
		p.text(addr, "city", a.City)
		p.text(addr, "state", a.State)
		p.text(addr, "postalCode", a.PostalCode)
		p.text(addr, "country", a.Country)
	}
	if len(res.Identifier) > 0 {
		other := p.el(person, "asOtherIDs", "classCode", "PAT")
		for _, id := range res.Identifier {
			p.el(other, "id", "extension", id.Value, "root", id.System)
		}
	}

	custodian := p.el(event, "custodian", "typeCode", "CST")
	entity := p.el(custodian, "assignedEntity", "classCode", "ASSIGNED")
	p.el(entity, "id", "root", hcid)
	p.el(entity, "code", "code", "NotHealthDataLocator", "codeSystem", custodianCodeSystem)
}

func buildQueryByParameter(p hl7, control *etree.Element, req *InboundRequest) {
	query := p.el(control, "queryByParameter")
	p.el(query, "queryId", "extension", req.ID, "root", req.SamlAttributes.HomeCommunityID)
	p.el(query, "statusCode", "code", "new")
	p.el(query, "responseModalityCode", "code", "R")
	p.el(query, "responsePriorityCode", "code", "I")

	params := p.el(query, "parameterList")
	res := req.PatientResource

	gender := p.el(params, "livingSubjectAdministrativeGender")
	p.el(gender, "value", "code", hl7GenderCode(res.Gender), "codeSystem", genderCodeSystem)
	p.text(gender, "semanticsText", "LivingSubject.administrativeGender")

	if res.BirthDate != "" {
		birth := p.el(params, "livingSubjectBirthTime")
		p.el(birth, "value", "value", res.BirthDate)
		p.text(birth, "semanticsText", "LivingSubject.birthTime")
	}
	if len(res.Identifier) > 0 {
		ids := p.el(params, "livingSubjectId")
		for _, id := range res.Identifier {
			p.el(ids, "value", "extension", id.Value, "root", id.System)
		}
		p.text(ids, "semanticsText", "LivingSubject.id")
	}
	if len(res.Name) > 0 {
		names := p.el(params, "livingSubjectName")
		for _, n := range res.Name {
			value := p.el(names, "value")
			p.text(value, "family", n.Family)
			for _, g := range n.Given {
				p.text(value, "given", g)
			}
		}
		p.text(names, "semanticsText", "LivingSubject.name")
	}
	if len(res.Address) > 0 {
		addrs := p.el(params, "patientAddress")
		for _, a := range res.Address {
			value := p.el(addrs, "value")
			p.text(value, "streetAddressLine", strings.Join(a.Line, ", "))
			p.text(value, "city", a.City)
			p.text(value, "state", a.State)
			p.text(value, "postalCode", a.PostalCode)
			p.text(value, "country", a.Country)
		}
		p.text(addrs, "semanticsText", "Patient.addr")
	}
	if len(res.Telecom) > 0 {
		telecoms := p.el(params, "patientTelecom")
		for _, t := range res.Telecom {
			p.el(telecoms, "value", "use", t.System, "value", t.Value)
		}
		p.text(telecoms, "semanticsText", "Patient.telecom")
	}
}

// hl7GenderCode maps an administrative gender to M, F or UN
func hl7GenderCode(gender string) string {
	switch gender {
	case "male":
		return "M"
	case "female":
		return "F"
	}
	return "UN"
}
