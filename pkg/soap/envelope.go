package soap

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Envelope is a SOAP 1.2 envelope with WS-Addressing headers
type Envelope struct {
	To     string
	Action string
	// MessageID defaults to a random urn:uuid
	MessageID string
	// ReplyTo defaults to AnonymousAddress. It is omitted on responses,
	// that is when RelatesTo is set.
	ReplyTo   string
	RelatesTo string

	// Security is appended to the header after the addressing elements
	Security *etree.Element
	Body     *etree.Element
	// BodyAttr is declared on soap:Body, typically namespace declarations
	BodyAttr []etree.Attr
}

// Document renders the envelope as an etree document with an XML
// declaration.
func (e *Envelope) Document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("soap:Envelope")
	root.CreateAttr("xmlns:soap", NsSOAPEnv)
	root.CreateAttr("xmlns:wsa", NsWSA)

	header := root.CreateElement("soap:Header")
	if e.To != "" {
		to := header.CreateElement("wsa:To")
		to.CreateAttr("soap:mustUnderstand", "1")
		to.SetText(e.To)
	}
	action := header.CreateElement("wsa:Action")
	action.CreateAttr("soap:mustUnderstand", "1")
	action.SetText(e.Action)

	messageID := e.MessageID
	if messageID == "" {
		messageID = "urn:uuid:" + uuid.NewString()
	}
	header.CreateElement("wsa:MessageID").SetText(messageID)

	if e.RelatesTo != "" {
		header.CreateElement("wsa:RelatesTo").SetText(e.RelatesTo)
	} else {
		replyTo := e.ReplyTo
		if replyTo == "" {
			replyTo = AnonymousAddress
		}
		header.CreateElement("wsa:ReplyTo").CreateElement("wsa:Address").SetText(replyTo)
	}

	if e.Security != nil {
		header.AddChild(e.Security)
	}

	body := root.CreateElement("soap:Body")
	for i := range e.BodyAttr {
		body.CreateAttr(e.BodyAttr[i].FullKey(), e.BodyAttr[i].Value)
	}
	if e.Body != nil {
		body.AddChild(e.Body)
	}
	return doc
}

// String serializes the envelope compactly
func (e *Envelope) String() (string, error) {
	out, err := e.Document().WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializing envelope: %w", err)
	}
	return out, nil
}
