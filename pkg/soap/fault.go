package soap

import (
	"fmt"

	"github.com/beevik/etree"
)

// Fault is a SOAP Fault reported by a gateway
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.Reason)
}

// ParseFault returns the Fault in a prefix-stripped document, or nil.
// SOAP 1.1 faultcode/faultstring are accepted as well.
func ParseFault(doc *etree.Document) *Fault {
	fault := doc.FindElement("//Fault")
	if fault == nil {
		return nil
	}
	f := &Fault{
		Code:    Text(fault, "./Code/Value"),
		Subcode: Text(fault, "./Code/Subcode/Value"),
		Reason:  Text(fault, "./Reason/Text"),
	}
	if f.Code == "" {
		f.Code = Text(fault, "./faultcode")
	}
	if f.Reason == "" {
		f.Reason = Text(fault, "./faultstring")
	}
	return f
}

// NewFault builds a SOAP 1.2 fault envelope
func NewFault(code, reason string) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("soap:Envelope")
	root.CreateAttr("xmlns:soap", NsSOAPEnv)
	fault := root.CreateElement("soap:Body").CreateElement("soap:Fault")
	fault.CreateElement("soap:Code").CreateElement("soap:Value").SetText(code)
	text := fault.CreateElement("soap:Reason").CreateElement("soap:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(reason)
	return doc
}
