package soap

import (
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Document(t *testing.T) {
	body := etree.NewElement("urn:AdhocQueryRequest")
	body.CreateAttr("xmlns:urn", NsQuery)

	env := &Envelope{
		To:        "https://gw.example/iti38",
		Action:    ActionCrossGatewayQuery,
		MessageID: "urn:uuid:1234",
		Body:      body,
	}
	out, err := env.String()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.NotContains(t, out, "\n")
	assert.Contains(t, out, `<wsa:To soap:mustUnderstand="1">https://gw.example/iti38</wsa:To>`)
	assert.Contains(t, out, `<wsa:Action soap:mustUnderstand="1">urn:ihe:iti:2007:CrossGatewayQuery</wsa:Action>`)
	assert.Contains(t, out, `<wsa:MessageID>urn:uuid:1234</wsa:MessageID>`)
	assert.Contains(t, out, `<wsa:ReplyTo><wsa:Address>`+AnonymousAddress+`</wsa:Address></wsa:ReplyTo>`)
	assert.Contains(t, out, `<soap:Body><urn:AdhocQueryRequest`)
}

func TestEnvelope_Response(t *testing.T) {
	env := &Envelope{
		Action:    ActionPatientDiscoveryResponse,
		RelatesTo: "urn:uuid:req",
	}
	out, err := env.String()
	require.NoError(t, err)
	assert.Contains(t, out, "<wsa:RelatesTo>urn:uuid:req</wsa:RelatesTo>")
	assert.NotContains(t, out, "ReplyTo")
	assert.NotContains(t, out, "wsa:To")
	assert.Contains(t, out, "<wsa:MessageID>urn:uuid:")
}

func TestParse_StripsPrefixes(t *testing.T) {
	xml := `<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope"><S:Body><ns2:AdhocQueryResponse xmlns:ns2="urn:x" status="urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Success"/></S:Body></S:Envelope>`

	doc, err := Parse([]byte(xml))
	require.NoError(t, err)

	resp := doc.FindElement("//AdhocQueryResponse")
	require.NotNil(t, resp)
	assert.Equal(t, "", resp.Space)
	assert.Equal(t, "Envelope", doc.Root().Tag)
	assert.Equal(t, "urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Success", AttrValue(doc.Root(), "//AdhocQueryResponse", "status"))
}

func TestParse_NotXML(t *testing.T) {
	_, err := Parse([]byte("this is not xml"))
	assert.Error(t, err)
}

func TestParseFault(t *testing.T) {
	doc, err := Parse([]byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body><env:Fault><env:Code><env:Value>env:Receiver</env:Value></env:Code><env:Reason><env:Text xml:lang="en">Document not available</env:Text></env:Reason></env:Fault></env:Body></env:Envelope>`))
	require.NoError(t, err)

	f := ParseFault(doc)
	require.NotNil(t, f)
	assert.Equal(t, "env:Receiver", f.Code)
	assert.Equal(t, "Document not available", f.Reason)

	doc, err = Parse([]byte(`<Envelope><Body><ok/></Body></Envelope>`))
	require.NoError(t, err)
	assert.Nil(t, ParseFault(doc))
}

func TestNewFault_RoundTrip(t *testing.T) {
	out, err := NewFault("soap:Sender", "malformed request").WriteToString()
	require.NoError(t, err)

	doc, err := Parse([]byte(out))
	require.NoError(t, err)
	f := ParseFault(doc)
	require.NotNil(t, f)
	assert.Equal(t, "soap:Sender", f.Code)
	assert.Equal(t, "malformed request", f.Reason)
}

func TestEnvelope_BodyAttr(t *testing.T) {
	env := &Envelope{
		Action:   ActionPatientDiscovery,
		BodyAttr: []etree.Attr{{Space: "xmlns", Key: "urn", Value: NsHL7}},
		Body:     etree.NewElement("urn:PRPA_IN201305UV02"),
	}
	out, err := env.String()
	require.NoError(t, err)
	assert.Contains(t, out, `<soap:Body xmlns:urn="urn:hl7-org:v3"><urn:PRPA_IN201305UV02/></soap:Body>`)
}
