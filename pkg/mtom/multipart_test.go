package mtom

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const soapXML = `<?xml version="1.0" encoding="UTF-8"?><soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body/></soap:Envelope>`

func sampleDocuments() map[string]struct {
	mime string
	data []byte
} {
	return map[string]struct {
		mime string
		data []byte
	}{
		"pdf":         {MimePDF, []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")},
		"tiff-le":     {MimeTIFF, []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0xFF}},
		"tiff-be":     {MimeTIFF, []byte{'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, 0x00, 0xFF}},
		"xml-decl":    {MimeXML, []byte(`<?xml version="1.0"?><ClinicalDocument/>`)},
		"xml-no-decl": {MimeXML, []byte(`<ClinicalDocument><title>CCD</title></ClinicalDocument>`)},
		"txt":         {MimeText, []byte("Patient summary\nline two\n")},
		"jpeg":        {MimeJPEG, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}},
		"png":         {MimePNG, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}},
		"bmp":         {MimeBMP, []byte{'B', 'M', 0x36, 0x00, 0x0C, 0x00, 0x00, 0x00}},
		"binary":      {MimeOctetData, []byte{0x00, 0x01, 0x02, 0xFE, 0x80, 0x7F, 0x10}},
	}
}

func TestBuildPayload(t *testing.T) {
	payload, err := BuildPayload(soapXML)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(payload.Boundary, "MIMEBoundary_"))
	assert.Contains(t, payload.ContentType, `multipart/related; type="application/xop+xml"`)
	assert.Contains(t, payload.ContentType, `boundary="`+payload.Boundary+`"`)
	assert.Contains(t, payload.ContentType, `start="<root.message@cxf.apache.org>"`)
	assert.Contains(t, payload.ContentType, `start-info="application/soap+xml"`)

	body := string(payload.Body)
	assert.Contains(t, body, "Content-ID: <root.message@cxf.apache.org>")
	assert.Contains(t, body, `Content-Type: application/xop+xml; charset=UTF-8; type="application/soap+xml"`)
	assert.Contains(t, body, "Content-Transfer-Encoding: 8bit")
	assert.True(t, strings.HasSuffix(body, "--"+payload.Boundary+"--\r\n"))
}

func TestBuildPayload_UniqueBoundary(t *testing.T) {
	a, err := BuildPayload(soapXML)
	require.NoError(t, err)
	b, err := BuildPayload(soapXML)
	require.NoError(t, err)
	assert.NotEqual(t, a.Boundary, b.Boundary)
}

func TestRoundTrip_SOAPOnly(t *testing.T) {
	payload, err := BuildPayload(soapXML)
	require.NoError(t, err)

	ct, err := ParseContentType(payload.ContentType)
	require.NoError(t, err)

	atts, err := Parse(payload.Body, ct.Boundary, ct.StartInfo)
	require.NoError(t, err)
	require.Len(t, atts.Parts, 1)

	assert.Equal(t, soapXML, string(atts.Parts[0].Body))
	assert.Equal(t, "root.message@cxf.apache.org", atts.Parts[0].ContentID())
	assert.Equal(t, "8bit", atts.Parts[0].TransferEncoding())
}

func TestRoundTrip_Attachments(t *testing.T) {
	docs := sampleDocuments()

	var attachments []Attachment
	for name, doc := range docs {
		attachments = append(attachments, Attachment{
			ContentID:   name + "@example.org",
			ContentType: doc.mime,
			Data:        doc.data,
		})
	}

	payload, err := BuildAttachments(soapXML, attachments)
	require.NoError(t, err)

	atts, err := Decode(payload.ContentType, payload.Body)
	require.NoError(t, err)
	require.Len(t, atts.Parts, len(docs)+1)
	assert.Equal(t, soapXML, string(atts.Root().Body))

	for i, att := range attachments {
		part := atts.Parts[i+1]
		assert.Equal(t, att.ContentID, part.ContentID())
		assert.Equal(t, att.ContentType, part.ContentType())
		assert.Equal(t, att.Data, part.Body, att.ContentID)
		assert.Equal(t, att.ContentType, DetectMimeType(part.Body), att.ContentID)
	}
}

func TestParse_LFOnly(t *testing.T) {
	body := "preamble\n--b1\nContent-ID: <root@x>\nContent-Type: application/xop+xml\n\n<a/>\n--b1\nContent-ID: <doc@x>\nContent-Type: text/plain\n\nhello\n--b1--\nepilogue"

	atts, err := Parse([]byte(body), "b1", "")
	require.NoError(t, err)
	require.Len(t, atts.Parts, 2)
	assert.Equal(t, "<a/>", string(atts.Parts[0].Body))
	assert.Equal(t, "root@x", atts.Parts[0].ContentID())
	assert.Equal(t, "hello", string(atts.Parts[1].Body))
}

func TestParse_StartInfoSeparator(t *testing.T) {
	body := "--b2\r\nContent-ID: <root@x>\r\nContent-Type: application/xop+xml; type=application/soap+xml\r\n\r\n<a/>\r\n--b2--\r\n"

	atts, err := Parse([]byte(body), "b2", "application/soap+xml")
	require.NoError(t, err)
	require.Len(t, atts.Parts, 1)
	assert.Equal(t, "application/xop+xml; type=application/soap+xml", atts.Parts[0].ContentType())
	assert.Equal(t, "<a/>", string(atts.Parts[0].Body))
}

func TestParse_HeadersCaseInsensitive(t *testing.T) {
	body := "--b3\r\ncontent-id: <root@x>\r\nCONTENT-TYPE: application/xop+xml\r\n\r\n<a/>\r\n--b3--"

	atts, err := Parse([]byte(body), "b3", "")
	require.NoError(t, err)
	assert.Equal(t, "root@x", atts.Parts[0].ContentID())
	assert.Equal(t, "application/xop+xml", atts.Parts[0].ContentType())
}

func TestParse_MissingRequiredHeader(t *testing.T) {
	body := "--b4\r\nContent-Type: application/xop+xml\r\n\r\n<a/>\r\n--b4--"

	_, err := Parse([]byte(body), "b4", "")
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestParse_NoParts(t *testing.T) {
	_, err := Parse([]byte("no delimiters here"), "b5", "")
	assert.ErrorIs(t, err, ErrNoParts)
}

func TestDecode_PlainSOAP(t *testing.T) {
	atts, err := Decode("application/soap+xml;charset=UTF-8", []byte(soapXML))
	require.NoError(t, err)
	require.Len(t, atts.Parts, 1)
	assert.Equal(t, soapXML, string(atts.Parts[0].Body))
	assert.Equal(t, ContentTypeSOAPXML, atts.Parts[0].ContentType())
}

func TestDecode_InlineDocument(t *testing.T) {
	pdf := sampleDocuments()["pdf"].data
	xml := fmt.Sprintf(`<Envelope><Body><RetrieveDocumentSetResponse><DocumentResponse><Document>%s</Document></DocumentResponse></RetrieveDocumentSetResponse></Body></Envelope>`,
		base64.StdEncoding.EncodeToString(pdf))

	atts, err := Decode("", []byte(xml))
	require.NoError(t, err)
	require.Len(t, atts.Parts, 1)

	start := strings.Index(xml, "<Document>") + len("<Document>")
	end := strings.Index(xml, "</Document>")
	data, mimeType, err := DecodeBase64Document(string(atts.Parts[0].Body[start:end]))
	require.NoError(t, err)
	assert.Equal(t, MimePDF, mimeType)
	assert.Equal(t, pdf, data)
}

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType(`Multipart/Related; TYPE="application/xop+xml"; Boundary="uuid:abc"; START="<root@x>"; start-info='application/soap+xml'`)
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", ct.MediaType)
	assert.Equal(t, "uuid:abc", ct.Boundary)
	assert.Equal(t, "<root@x>", ct.Start)
	assert.Equal(t, "application/xop+xml", ct.Type)
	assert.Equal(t, "application/soap+xml", ct.StartInfo)
}

func TestParseContentType_Missing(t *testing.T) {
	_, err := ParseContentType(`multipart/related; start="<root@x>"`)
	assert.ErrorIs(t, err, ErrMissingBoundary)

	_, err = ParseContentType(`multipart/related; boundary=abc`)
	assert.ErrorIs(t, err, ErrMissingStart)
}

func TestFind(t *testing.T) {
	atts := &Attachments{Parts: []Part{
		{Headers: map[string]string{"content-id": "root@x", "content-type": "a"}},
		{Headers: map[string]string{"content-id": "1.urn:uuid:abc@apache.org", "content-type": "b"}},
	}}

	part, err := atts.Find("cid:1.urn%3Auuid%3Aabc%40apache.org")
	require.NoError(t, err)
	assert.Equal(t, "b", part.ContentType())

	_, err = atts.Find("cid:missing@x")
	assert.ErrorIs(t, err, ErrUnresolvedCID)
}

func TestCIDReference(t *testing.T) {
	assert.Equal(t, "doc@example.org", CIDReference("cid:doc%40example.org"))
	assert.Equal(t, "doc@example.org", CIDReference("doc@example.org"))
}
