package mtom

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeXOP is the MIME type of the XOP root part
	ContentTypeXOP = "application/xop+xml"
	// ContentTypeSOAPXML is the MIME type for SOAP 1.2
	ContentTypeSOAPXML = "application/soap+xml"
	// ContentTypeOctetStream is the fallback MIME type for binary content
	ContentTypeOctetStream = "application/octet-stream"

	// RootContentID is the Content-ID of the SOAP root part
	RootContentID = "<root.message@cxf.apache.org>"
)

var (
	ErrMissingBoundary = errors.New("mtom: boundary parameter missing")
	ErrMissingStart    = errors.New("mtom: start parameter missing")
	ErrMissingHeader   = errors.New("mtom: required part header missing")
	ErrNoSeparator     = errors.New("mtom: header/body separator not found")
	ErrNoParts         = errors.New("mtom: no parts found")
	ErrUnresolvedCID   = errors.New("mtom: attachment not found")
)

// Part is one MIME part. Header names are lowercased; the content-id
// value has its angle brackets removed. Body is the raw part body with no
// transfer decoding applied.
type Part struct {
	Headers map[string]string
	Body    []byte
}

// ContentID returns the part's Content-ID without angle brackets
func (p Part) ContentID() string {
	return p.Headers["content-id"]
}

// ContentType returns the part's Content-Type header
func (p Part) ContentType() string {
	return p.Headers["content-type"]
}

// TransferEncoding returns the part's Content-Transfer-Encoding header
func (p Part) TransferEncoding() string {
	return p.Headers["content-transfer-encoding"]
}

// Attachments is a parsed multipart message. Parts are in wire order and
// the first part is always the SOAP envelope.
type Attachments struct {
	Boundary string
	Parts    []Part
}

// Root returns the SOAP part
func (a *Attachments) Root() *Part {
	if a == nil || len(a.Parts) == 0 {
		return nil
	}
	return &a.Parts[0]
}

// Find returns the part whose Content-ID matches cid. The reference may
// carry the cid: scheme, angle brackets or percent-encoding.
func (a *Attachments) Find(cid string) (*Part, error) {
	want := normalizeContentID(CIDReference(cid))
	for i := range a.Parts {
		if normalizeContentID(a.Parts[i].ContentID()) == want {
			return &a.Parts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: cid %q", ErrUnresolvedCID, want)
}

// Attachment is a binary part added behind the SOAP root part
type Attachment struct {
	ContentID   string
	ContentType string
	Data        []byte
}

// Payload is an encoded multipart message ready for transport
type Payload struct {
	ContentType string
	Boundary    string
	Body        []byte
}

// BuildPayload wraps signed SOAP XML as the XOP root part of a
// multipart/related message.
func BuildPayload(signedXML string) (*Payload, error) {
	return BuildAttachments(signedXML, nil)
}

// BuildAttachments wraps signed SOAP XML as the root part followed by the
// given binary attachments.
func BuildAttachments(signedXML string, attachments []Attachment) (*Payload, error) {
	boundary := generateBoundary()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("failed to set boundary: %w", err)
	}

	// Header keys are assigned directly so Content-ID keeps its wire casing.
	rootHeader := textproto.MIMEHeader{}
	rootHeader["Content-ID"] = []string{RootContentID}
	rootHeader["Content-Type"] = []string{
		fmt.Sprintf(`%s; charset=UTF-8; type="%s"`, ContentTypeXOP, ContentTypeSOAPXML),
	}
	rootHeader["Content-Transfer-Encoding"] = []string{"8bit"}

	rootPart, err := writer.CreatePart(rootHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create root part: %w", err)
	}
	if _, err := rootPart.Write([]byte(signedXML)); err != nil {
		return nil, fmt.Errorf("failed to write root part: %w", err)
	}

	for _, att := range attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = ContentTypeOctetStream
		}
		contentID := att.ContentID
		if contentID == "" {
			contentID = uuid.New().String() + "@ihe.siros.org"
		}

		header := textproto.MIMEHeader{}
		header["Content-ID"] = []string{AddContentIDBrackets(contentID)}
		header["Content-Type"] = []string{contentType}
		header["Content-Transfer-Encoding"] = []string{"binary"}

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	contentType := fmt.Sprintf(
		`%s; type="%s"; boundary="%s"; start="%s"; start-info="%s"`,
		ContentTypeMultipartRelated, ContentTypeXOP, boundary, RootContentID, ContentTypeSOAPXML,
	)

	return &Payload{
		ContentType: contentType,
		Boundary:    boundary,
		Body:        buf.Bytes(),
	}, nil
}

// Decode parses a transport response into Attachments. Multipart bodies
// are split on their boundary; anything else becomes a single SOAP part.
func Decode(contentType string, body []byte) (*Attachments, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/") {
		return FromSOAP(body), nil
	}
	ct, err := ParseContentType(contentType)
	if err != nil {
		return nil, err
	}
	return Parse(body, ct.Boundary, ct.StartInfo)
}

// FromSOAP wraps a plain SOAP response as a single-part message
func FromSOAP(body []byte) *Attachments {
	return &Attachments{
		Parts: []Part{{
			Headers: map[string]string{
				"content-id":   normalizeContentID(RootContentID),
				"content-type": ContentTypeSOAPXML,
			},
			Body: body,
		}},
	}
}

// Parse splits a multipart body on its boundary delimiters, dropping the
// preamble and epilogue.
func Parse(body []byte, boundary, startInfo string) (*Attachments, error) {
	if boundary == "" {
		return nil, ErrMissingBoundary
	}

	delimiter := []byte("--" + boundary)
	segments := bytes.Split(body, delimiter)

	atts := &Attachments{Boundary: boundary}
	for _, segment := range segments[1:] {
		if bytes.HasPrefix(segment, []byte("--")) {
			break
		}
		segment = trimLeadingNewline(segment)

		headerEnd, bodyStart, err := findSeparator(segment, startInfo)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", len(atts.Parts), err)
		}

		headers, err := parseHeaders(segment[:headerEnd])
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", len(atts.Parts), err)
		}

		atts.Parts = append(atts.Parts, Part{
			Headers: headers,
			Body:    trimTrailingNewline(segment[bodyStart:]),
		})
	}

	if len(atts.Parts) == 0 {
		return nil, ErrNoParts
	}
	return atts, nil
}

// findSeparator returns where the header block ends and the body starts.
// The first match wins, in this order: start-info followed by CRLFCRLF,
// bare CRLFCRLF, bare LFLF.
func findSeparator(segment []byte, startInfo string) (int, int, error) {
	if startInfo != "" {
		marker := []byte(startInfo + "\r\n\r\n")
		if idx := bytes.Index(segment, marker); idx >= 0 {
			end := idx + len(startInfo)
			return end, idx + len(marker), nil
		}
	}
	if idx := bytes.Index(segment, []byte("\r\n\r\n")); idx >= 0 {
		return idx, idx + 4, nil
	}
	if idx := bytes.Index(segment, []byte("\n\n")); idx >= 0 {
		return idx, idx + 2, nil
	}
	return 0, 0, ErrNoSeparator
}

func parseHeaders(block []byte) (map[string]string, error) {
	headers := make(map[string]string)
	var lastKey string

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		// folded continuation line
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			headers[lastKey] += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lastKey = strings.ToLower(strings.TrimSpace(key))
		headers[lastKey] = strings.TrimSpace(value)
	}

	for _, required := range []string{"content-id", "content-type"} {
		if _, ok := headers[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, required)
		}
	}
	headers["content-id"] = GetContentIDWithoutBrackets(headers["content-id"])

	return headers, nil
}

func trimLeadingNewline(b []byte) []byte {
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return b[2:]
	}
	return bytes.TrimPrefix(b, []byte("\n"))
}

func trimTrailingNewline(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	return bytes.TrimSuffix(b, []byte("\n"))
}

// generateBoundary generates a MIME boundary string
func generateBoundary() string {
	return "MIMEBoundary_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
