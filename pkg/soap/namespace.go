package soap

// Namespace constants for the IHE SOAP profiles
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsWSA     = "http://www.w3.org/2005/08/addressing"
	NsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSSE11  = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	NsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS      = "http://www.w3.org/2000/09/xmldsig#"
	NsSAML2   = "urn:oasis:names:tc:SAML:2.0:assertion"
	NsXSD     = "http://www.w3.org/2001/XMLSchema"
	NsXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	NsHL7     = "urn:hl7-org:v3"
	NsQuery   = "urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0"
	NsRIM     = "urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0"
	NsRS      = "urn:oasis:names:tc:ebxml-regrep:xsd:rs:3.0"
	NsXDSB    = "urn:ihe:iti:xds-b:2007"
	NsXOP     = "http://www.w3.org/2004/08/xop/include"
)

// WS-Addressing actions
const (
	ActionPatientDiscovery         = "urn:hl7-org:v3:PRPA_IN201305UV02:CrossGatewayPatientDiscovery"
	ActionPatientDiscoveryResponse = "urn:hl7-org:v3:PRPA_IN201306UV02:CrossGatewayPatientDiscovery"
	ActionCrossGatewayQuery        = "urn:ihe:iti:2007:CrossGatewayQuery"
	ActionCrossGatewayRetrieve     = "urn:ihe:iti:2007:CrossGatewayRetrieve"
)

// AnonymousAddress is the default wsa:ReplyTo address
const AnonymousAddress = "http://www.w3.org/2005/08/addressing/anonymous"
