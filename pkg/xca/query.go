package xca

import (
	"github.com/beevik/etree"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

// QueryResult is the raw outcome of sending one ITI-38 request
type QueryResult struct {
	Request *ihe.DocumentQueryRequest
	Body    []byte
	// Err is set when the transport failed before any response existed
	Err error
}

// ProcessQueryResponse maps an AdhocQueryResponse to document references,
// a registry error, or an informational no-documents outcome.
func ProcessQueryResponse(result *QueryResult) *ihe.DocumentQueryResponse {
	req := result.Request
	patient := req.ExternalGatewayPatient
	resp := &ihe.DocumentQueryResponse{
		ResponseMeta: ihe.ResponseMeta{
			ID:                req.ID,
			PatientID:         req.PatientID,
			Timestamp:         req.Timestamp,
			RequestTimestamp:  req.Timestamp,
			ResponseTimestamp: ihe.Now(),
			IHEGatewayV2:      true,
		},
		Gateway:                req.Gateway,
		ExternalGatewayPatient: &patient,
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

	body := doc.FindElement("//Body/AdhocQueryResponse")
	if body == nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "missing AdhocQueryResponse")
		return resp
	}
	rawStatus := body.SelectAttrValue("status", "")
	if rawStatus == "" {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "AdhocQueryResponse has no status")
		return resp
	}

	objects := body.FindElements("./RegistryObjectList/ExtrinsicObject")
	errList := body.SelectElement("RegistryErrorList")
	switch {
	case isSuccess(responseStatus(rawStatus)) && len(objects) > 0:
		refs := make([]ihe.DocumentReference, 0, len(objects))
		for _, obj := range objects {
			if ref, ok := parseExtrinsicObject(obj); ok {
				refs = append(refs, ref)
			}
		}
		resp.DocumentReference = refs
	case errList != nil:
		resp.OperationOutcome = ihe.RegistryErrors(req.ID, registryErrors(errList))
	default:
		resp.OperationOutcome = ihe.NoDocuments(req.ID)
	}
	return resp
}

// parseExtrinsicObject maps one document entry. Entries without a
// uniqueId external identifier are skipped.
func parseExtrinsicObject(obj *etree.Element) (ihe.DocumentReference, bool) {
	var docUniqueID string
	for _, ext := range obj.SelectElements("ExternalIdentifier") {
		if ext.SelectAttrValue("identificationScheme", "") == SchemeUniqueID {
			docUniqueID = ihe.StripURNPrefix(ext.SelectAttrValue("value", ""))
			break
		}
	}
	if docUniqueID == "" {
		return ihe.DocumentReference{}, false
	}

	classifications := make(map[string]*etree.Element)
	for _, c := range obj.SelectElements("Classification") {
		scheme := c.SelectAttrValue("classificationScheme", "")
		if _, dup := classifications[scheme]; !dup {
			classifications[scheme] = c
		}
	}

	home := ihe.StripURNPrefix(obj.SelectAttrValue("home", ""))
	repository := slotValue(obj, "repositoryUniqueId")
	if repository == "" {
		repository = home
	}
	creation := slotValue(obj, "creationTime")
	start := slotValue(obj, "serviceStartTime")
	stop := slotValue(obj, "serviceStopTime")

	ref := ihe.DocumentReference{
		HomeCommunityID:    home,
		RepositoryUniqueID: repository,
		DocUniqueID:        docUniqueID,
		ContentType:        obj.SelectAttrValue("mimeType", ""),
		Language:           slotValue(obj, "languageCode"),
		Size:               parseSize(slotValue(obj, "size")),
		Creation:           formatTime(firstNonEmpty(creation, start, stop)),
		ServiceStartTime:   formatTime(start),
		ServiceStopTime:    formatTime(stop),

		ClassCode:           coding(classifications, SchemeClassCode),
		TypeCode:            coding(classifications, SchemeTypeCode),
		FormatCode:          coding(classifications, SchemeFormatCode),
		ConfidentialityCode: coding(classifications, SchemeConfidentialityCode),
		PracticeSettingCode: coding(classifications, SchemePracticeSettingCode),
		FacilityTypeCode:    coding(classifications, SchemeHealthcareFacilityTypeCode),
	}
	if c := classifications[SchemeClassCode]; c != nil {
		ref.Title = localizedName(c)
	}
	if author := classifications[SchemeAuthor]; author != nil {
		ref.AuthorPerson = slotValue(author, "authorPerson")
		ref.AuthorInstitution = slotValue(author, "authorInstitution")
	}
	return ref, true
}

func coding(classifications map[string]*etree.Element, scheme string) *ihe.Coding {
	c := classifications[scheme]
	if c == nil {
		return nil
	}
	code := c.SelectAttrValue("nodeRepresentation", "")
	display := localizedName(c)
	if code == "" && display == "" {
		return nil
	}
	return &ihe.Coding{System: schemeSystems[scheme], Code: code, Display: display}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
