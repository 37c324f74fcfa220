package xcpd

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

// Acknowledgement and query response codes
const (
	AckAccept = "AA"
	AckError  = "AE"

	QueryOK       = "OK"
	QueryNotFound = "NF"
	QueryError    = "AE"
)

// Result is the raw outcome of sending one ITI-55 request. Err is set
// when the transport failed before any response body existed.
type Result struct {
	Gateway ihe.XCPDGateway
	Request *ihe.PatientDiscoveryRequest
	Body    []byte
	Err     error
}

// ProcessResponse classifies a gateway's PRPA_IN201306UV02 reply.
// PatientMatch is true for a match, false for an explicit no-match and nil
// for every error state.
func ProcessResponse(result *Result) *ihe.PatientDiscoveryResponse {
	req := result.Request
	resp := &ihe.PatientDiscoveryResponse{
		ResponseMeta: ihe.ResponseMeta{
			ID:                req.ID,
			PatientID:         req.PatientID,
			Timestamp:         req.Timestamp,
			ResponseTimestamp: ihe.Now(),
			IHEGatewayV2:      true,
		},
		Gateway: result.Gateway,
	}

	if result.Err != nil {
		resp.OperationOutcome = ihe.HTTPError(req.ID, result.Err.Error())
		return resp
	}

	doc, err := soap.Parse(result.Body)
	if err != nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, err.Error())
		return resp
	}
	if fault := soap.ParseFault(doc); fault != nil {
		resp.OperationOutcome = ihe.SOAPFault(req.ID, fault.Code, fault.Reason)
		return resp
	}

	profile := doc.FindElement("//PRPA_IN201306UV02")
	if profile == nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "missing PRPA_IN201306UV02")
		return resp
	}
	ack := soap.AttrValue(profile, "./acknowledgement/typeCode", "code")
	queryCode := soap.AttrValue(profile, "./controlActProcess/queryAck/queryResponseCode", "code")
	if ack == "" || queryCode == "" {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "missing acknowledgement or queryResponseCode")
		return resp
	}

	switch {
	case ack == AckAccept && queryCode == QueryOK:
		subject := profile.FindElement("./controlActProcess/subject/registrationEvent/subject1/patient")
		if subject == nil || soap.AttrValue(subject, "./id", "extension") == "" {
			resp.OperationOutcome = ihe.SchemaError(req.ID, "match without subject patient id")
			return resp
		}
		resp.PatientMatch = ihe.Bool(true)
		resp.GatewayHomeCommunityID = req.SamlAttributes.HomeCommunityID
		resp.ExternalGatewayPatient = &ihe.ExternalGatewayPatient{
			ID:     soap.AttrValue(subject, "./id", "extension"),
			System: soap.AttrValue(subject, "./id", "root"),
		}
		resp.PatientResource = parsePatientPerson(subject.SelectElement("patientPerson"))

	case ack == AckAccept && queryCode == QueryNotFound:
		resp.PatientMatch = ihe.Bool(false)
		resp.OperationOutcome = ihe.NotFound(req.ID)

	default:
		detail := profile.FindElement("./acknowledgement/acknowledgementDetail")
		text := soap.Text(detail, "./text")
		if text == "" {
			text = "acknowledgement " + ack + ", query response " + queryCode
		}
		resp.OperationOutcome = ihe.AcknowledgementError(req.ID,
			soap.AttrValue(detail, "./code", "code"),
			soap.AttrValue(detail, "./code", "codeSystem"),
			text,
		)
	}
	return resp
}

// parsePatientPerson aggregates every name, addr, telecom and other id
func parsePatientPerson(person *etree.Element) *ihe.Patient {
	patient := &ihe.Patient{}
	if person == nil {
		return patient
	}

	for _, n := range person.SelectElements("name") {
		name := ihe.Name{Family: soap.Text(n, "./family")}
		for _, g := range n.SelectElements("given") {
			name.Given = append(name.Given, strings.TrimSpace(g.Text()))
		}
		patient.Name = append(patient.Name, name)
	}

	patient.Gender = fhirGender(soap.AttrValue(person, "./administrativeGenderCode", "code"))
	patient.BirthDate = soap.AttrValue(person, "./birthTime", "value")

	for _, a := range person.SelectElements("addr") {
		if addr, ok := parseAddress(a); ok {
			patient.Address = append(patient.Address, addr)
		}
	}

	for _, t := range person.SelectElements("telecom") {
		use, value := t.SelectAttrValue("use", ""), t.SelectAttrValue("value", "")
		if use == "" && value == "" {
			continue
		}
		patient.Telecom = append(patient.Telecom, ihe.Telecom{System: use, Value: value})
	}

	for _, id := range person.FindElements("./asOtherIDs/id") {
		ext, root := id.SelectAttrValue("extension", ""), id.SelectAttrValue("root", "")
		if ext == "" && root == "" {
			continue
		}
		patient.Identifier = append(patient.Identifier, ihe.Identifier{System: root, Value: ext})
	}
	return patient
}

// parseAddress skips addresses with neither city, state nor postal code
func parseAddress(a *etree.Element) (ihe.Address, bool) {
	addr := ihe.Address{
		City:       soap.Text(a, "./city"),
		State:      soap.Text(a, "./state"),
		PostalCode: soap.Text(a, "./postalCode"),
		Country:    soap.Text(a, "./country"),
	}
	if addr.City == "" && addr.State == "" && addr.PostalCode == "" {
		return addr, false
	}
	for _, line := range a.SelectElements("streetAddressLine") {
		if text := strings.TrimSpace(line.Text()); text != "" {
			addr.Line = append(addr.Line, text)
		}
	}
	return addr, true
}
