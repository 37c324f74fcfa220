package security

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

// SAML constants used in the assertion
const (
	NameFormatURI   = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"
	NameFormatBasic = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"

	// BasicNameFormatOID is the one gateway known to reject the uri
	// NameFormat on subject-id.
	BasicNameFormatOID = "1.3.6.1.4.1.41800.100"

	SNOMEDCodeSystem       = "2.16.840.1.113883.6.96"
	PurposeOfUseCodeSystem = "2.16.840.1.113883.3.18.7.1"

	DefaultRoleCode    = "224608005"
	DefaultRoleDisplay = "Administrative AND/OR managerial worker"
	DefaultIssuer      = "support@metriport.com"
	DefaultValidity    = 5 * time.Minute
)

// SAML attribute names of the AttributeStatement
const (
	AttrSubjectID        = "urn:oasis:names:tc:xspa:1.0:subject:subject-id"
	AttrOrganization     = "urn:oasis:names:tc:xspa:1.0:subject:organization"
	AttrOrganizationID   = "urn:oasis:names:tc:xspa:1.0:subject:organization-id"
	AttrHomeCommunityID  = "urn:nhin:names:saml:homeCommunityId"
	AttrRole             = "urn:oasis:names:tc:xacml:2.0:subject:role"
	AttrPurposeOfUse     = "urn:oasis:names:tc:xspa:1.0:subject:purposeofuse"
	AttrQueryAuthGrantor = "QueryAuthGrantor"
)

// HeaderParams configures BuildSecurityHeader
type HeaderParams struct {
	// PublicCert is the PEM certificate whose key signs the message
	PublicCert string
	Attributes ihe.SamlAttributes
	// ToURL is the destination endpoint, asserted as the SAML audience
	ToURL string
	// GatewayOID selects the subject-id NameFormat
	GatewayOID string
	// Issuer defaults to DefaultIssuer
	Issuer string

	Created  time.Time
	Validity time.Duration

	// TimestampID and AssertionID default to random ids
	TimestampID string
	AssertionID string
}

// BuildSecurityHeader produces an unsigned wsse:Security element with a
// wsu:Timestamp and a holder-of-key SAML 2.0 assertion.
//
// Every element that is later signed declares the prefixes it uses, so it
// canonicalizes the same when detached from the envelope.
func BuildSecurityHeader(p HeaderParams) (*etree.Element, error) {
	cert, err := ParseCertificatePEM(p.PublicCert)
	if err != nil {
		return nil, fmt.Errorf("parsing public certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSA
	}
	modulus, exponent := rsaKeyValue(pub)

	created := p.Created
	if created.IsZero() {
		created = time.Now()
	}
	validity := p.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	createdTS := ihe.FormatTimestamp(created)
	expiresTS := ihe.FormatTimestamp(created.Add(validity))

	timestampID := p.TimestampID
	if timestampID == "" {
		timestampID = "TS-" + uuid.NewString()
	}
	assertionID := p.AssertionID
	if assertionID == "" {
		assertionID = "_" + uuid.NewString()
	}
	issuer := p.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	security := etree.NewElement("wsse:Security")
	security.CreateAttr("xmlns:wsse", soap.NsWSSE)
	security.CreateAttr("xmlns:ds", soap.NsDS)
	security.CreateAttr("xmlns:wsu", soap.NsWSU)

	ts := security.CreateElement("wsu:Timestamp")
	ts.CreateAttr("xmlns:wsu", soap.NsWSU)
	ts.CreateAttr("wsu:Id", timestampID)
	ts.CreateElement("wsu:Created").SetText(createdTS)
	ts.CreateElement("wsu:Expires").SetText(expiresTS)

	assertion := security.CreateElement("saml2:Assertion")
	assertion.CreateAttr("xmlns:saml2", soap.NsSAML2)
	assertion.CreateAttr("xmlns:xsd", soap.NsXSD)
	assertion.CreateAttr("xmlns:xsi", soap.NsXSI)
	assertion.CreateAttr("xmlns:ds", soap.NsDS)
	assertion.CreateAttr("ID", assertionID)
	assertion.CreateAttr("IssueInstant", createdTS)
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("xsi:type", "saml2:AssertionType")

	iss := assertion.CreateElement("saml2:Issuer")
	iss.CreateAttr("Format", "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress")
	iss.SetText(issuer)

	subject := assertion.CreateElement("saml2:Subject")
	nameID := subject.CreateElement("saml2:NameID")
	nameID.CreateAttr("Format", "urn:oasis:names:tc:SAML:1.1:nameid-format:X509SubjectName")
	nameID.SetText(cert.Subject.String())

	confirmation := subject.CreateElement("saml2:SubjectConfirmation")
	confirmation.CreateAttr("Method", "urn:oasis:names:tc:SAML:2.0:cm:holder-of-key")
	keyInfo := confirmation.CreateElement("saml2:SubjectConfirmationData").CreateElement("ds:KeyInfo")
	rsaValue := keyInfo.CreateElement("ds:KeyValue").CreateElement("ds:RSAKeyValue")
	rsaValue.CreateElement("ds:Modulus").SetText(modulus)
	rsaValue.CreateElement("ds:Exponent").SetText(exponent)
	keyInfo.CreateElement("ds:X509Data").CreateElement("ds:X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	conditions := assertion.CreateElement("saml2:Conditions")
	conditions.CreateAttr("NotBefore", createdTS)
	conditions.CreateAttr("NotOnOrAfter", expiresTS)
	conditions.CreateElement("saml2:AudienceRestriction").CreateElement("saml2:Audience").SetText(p.ToURL)

	authn := assertion.CreateElement("saml2:AuthnStatement")
	authn.CreateAttr("AuthnInstant", createdTS)
	locality := authn.CreateElement("saml2:SubjectLocality")
	locality.CreateAttr("Address", "127.0.0.1")
	locality.CreateAttr("DNSName", "localhost")
	authn.CreateElement("saml2:AuthnContext").CreateElement("saml2:AuthnContextClassRef").
		SetText("urn:oasis:names:tc:SAML:2.0:ac:classes:X509")

	buildAttributeStatement(assertion, p)

	return security, nil
}

func buildAttributeStatement(assertion *etree.Element, p HeaderParams) {
	attrs := p.Attributes
	statement := assertion.CreateElement("saml2:AttributeStatement")

	nameFormat := NameFormatURI
	if p.GatewayOID == BasicNameFormatOID {
		nameFormat = NameFormatBasic
	}
	subjectID := attrs.SubjectID
	if subjectID == "" {
		subjectID = attrs.SubjectRole.Display
	}
	value := addAttribute(statement, AttrSubjectID, nameFormat)
	value.CreateAttr("xsi:type", "xsd:string")
	value.SetText(subjectID)

	addAttribute(statement, AttrOrganization, NameFormatURI).
		SetText(attrs.Organization)

	orgID := attrs.OrganizationID
	if orgID == "" {
		orgID = attrs.HomeCommunityID
	}
	if ihe.IsOID(orgID) {
		orgID = ihe.WrapURNOID(orgID)
	}
	addAttribute(statement, AttrOrganizationID, NameFormatURI).
		SetText(orgID)

	addAttribute(statement, AttrHomeCommunityID, NameFormatURI).
		SetText(ihe.WrapURNOID(attrs.HomeCommunityID))

	roleCode := attrs.SubjectRole.Code
	if roleCode == "" {
		roleCode = DefaultRoleCode
	}
	roleDisplay := attrs.SubjectRole.Display
	if roleDisplay == "" {
		roleDisplay = DefaultRoleDisplay
	}
	role := addAttribute(statement, AttrRole, "").
		CreateElement("hl7:Role")
	role.CreateAttr("xmlns:hl7", soap.NsHL7)
	role.CreateAttr("code", roleCode)
	role.CreateAttr("codeSystem", SNOMEDCodeSystem)
	role.CreateAttr("codeSystemName", "SNOMED_CT")
	role.CreateAttr("displayName", roleDisplay)

	purposeValue := addAttribute(statement, AttrPurposeOfUse, "")
	purposeValue.CreateAttr("xmlns:xsi", soap.NsXSI)
	purpose := purposeValue.CreateElement("hl7:PurposeOfUse")
	purpose.CreateAttr("xmlns:hl7", soap.NsHL7)
	purpose.CreateAttr("xsi:type", "CE")
	purpose.CreateAttr("code", attrs.PurposeOfUse)
	purpose.CreateAttr("codeSystem", PurposeOfUseCodeSystem)
	purpose.CreateAttr("codeSystemName", "nhin-purpose")
	purpose.CreateAttr("displayName", "Treatment")

	if attrs.QueryAuthGrantor != "" {
		addAttribute(statement, AttrQueryAuthGrantor, NameFormatURI).
			SetText("Organization/" + attrs.QueryAuthGrantor)
	}
}

// addAttribute appends a saml2:Attribute and returns its AttributeValue
func addAttribute(statement *etree.Element, name, nameFormat string) *etree.Element {
	attr := statement.CreateElement("saml2:Attribute")
	attr.CreateAttr("Name", name)
	if nameFormat != "" {
		attr.CreateAttr("NameFormat", nameFormat)
	}
	return attr.CreateElement("saml2:AttributeValue")
}

// ParseAttributes reads the AttributeStatement of an assertion in a
// prefix-stripped document. Attribute values are returned unwrapped, so
// urn:oid: prefixes are removed.
func ParseAttributes(assertion *etree.Element) ihe.SamlAttributes {
	var attrs ihe.SamlAttributes
	if assertion == nil {
		return attrs
	}
	for _, attr := range assertion.FindElements(".//AttributeStatement/Attribute") {
		value := attr.SelectElement("AttributeValue")
		if value == nil {
			continue
		}
		text := strings.TrimSpace(value.Text())
		switch attr.SelectAttrValue("Name", "") {
		case AttrSubjectID:
			attrs.SubjectID = text
		case AttrOrganization:
			attrs.Organization = text
		case AttrOrganizationID:
			attrs.OrganizationID = ihe.StripURNPrefix(text)
		case AttrHomeCommunityID:
			attrs.HomeCommunityID = ihe.StripURNPrefix(text)
		case AttrRole:
			if role := value.SelectElement("Role"); role != nil {
				attrs.SubjectRole = ihe.Code{
					Code:    role.SelectAttrValue("code", ""),
					Display: role.SelectAttrValue("displayName", ""),
				}
			}
		case AttrPurposeOfUse:
			if purpose := value.SelectElement("PurposeOfUse"); purpose != nil {
				attrs.PurposeOfUse = purpose.SelectAttrValue("code", "")
			}
		case AttrQueryAuthGrantor:
			attrs.QueryAuthGrantor = strings.TrimPrefix(text, "Organization/")
		}
	}
	return attrs
}
