package security

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrDigestMismatch     = errors.New("digest mismatch")
	ErrSplitDigestValue   = errors.New("DigestValue has more than one text node")
	ErrMalformedSignature = errors.New("malformed signature")
)

// Verify reports whether every ds:Signature in xml checks against the
// public key of publicCert. Parse failures and documents without
// signatures verify to false.
func Verify(xml, publicCert string) bool {
	return Validate(xml, publicCert) == nil
}

// Validate is Verify with the reason for rejection
func Validate(xml, publicCert string) error {
	cert, err := ParseCertificatePEM(publicCert)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return ErrNotRSA
	}

	doc, err := readDocument(xml)
	if err != nil {
		return err
	}
	root := doc.Root()

	for _, dv := range root.FindElements("//DigestValue") {
		if textNodes(dv) > 1 {
			return ErrSplitDigestValue
		}
	}

	signatures := root.FindElements("//Signature")
	if len(signatures) == 0 {
		return ErrNoSignature
	}
	for i, sig := range signatures {
		if err := verifySignature(root, sig, pub); err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
	}
	return nil
}

func verifySignature(root, sig *etree.Element, pub *rsa.PublicKey) error {
	signedInfo := sig.SelectElement("SignedInfo")
	if signedInfo == nil {
		return fmt.Errorf("%w: no SignedInfo", ErrMalformedSignature)
	}
	method := signedInfo.SelectElement("SignatureMethod")
	if method == nil {
		return fmt.Errorf("%w: no SignatureMethod", ErrMalformedSignature)
	}
	sigHash, err := hashFromAlgorithm(method.SelectAttrValue("Algorithm", ""))
	if err != nil {
		return err
	}

	refs := signedInfo.SelectElements("Reference")
	if len(refs) == 0 {
		return fmt.Errorf("%w: no Reference", ErrMalformedSignature)
	}
	for _, ref := range refs {
		if err := verifyReference(root, sig, ref); err != nil {
			return err
		}
	}

	canonical, err := canonicalize(signedInfo)
	if err != nil {
		return err
	}
	value, err := decodeBase64Text(sig.SelectElement("SignatureValue"))
	if err != nil {
		return err
	}
	if err := rsa.VerifyPKCS1v15(pub, sigHash, digest(sigHash, []byte(canonical)), value); err != nil {
		return fmt.Errorf("signature value: %w", err)
	}
	return nil
}

func verifyReference(root, sig, ref *etree.Element) error {
	uri := ref.SelectAttrValue("URI", "")
	if !strings.HasPrefix(uri, "#") {
		return fmt.Errorf("%w: unsupported reference %q", ErrMalformedSignature, uri)
	}
	target := findByID(root, uri[1:])
	if target == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, uri)
	}

	enveloped := false
	if transforms := ref.SelectElement("Transforms"); transforms != nil {
		for _, t := range transforms.SelectElements("Transform") {
			if t.SelectAttrValue("Algorithm", "") == AlgEnveloped {
				enveloped = true
			}
		}
	}

	method := ref.SelectElement("DigestMethod")
	if method == nil {
		return fmt.Errorf("%w: no DigestMethod", ErrMalformedSignature)
	}
	h, err := hashFromAlgorithm(method.SelectAttrValue("Algorithm", ""))
	if err != nil {
		return err
	}

	subject := target
	if enveloped {
		subject = withoutSignature(target, sig)
	}
	canonical, err := canonicalize(subject)
	if err != nil {
		return err
	}

	expected, err := decodeBase64Text(ref.SelectElement("DigestValue"))
	if err != nil {
		return err
	}
	if string(expected) != string(digest(h, []byte(canonical))) {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, uri)
	}
	return nil
}

// withoutSignature returns a copy of target with sig removed, when sig is
// a descendant of target.
func withoutSignature(target, sig *etree.Element) *etree.Element {
	var path []int
	for cur := sig; cur != target; cur = cur.Parent() {
		if cur == nil || cur.Parent() == nil {
			return target
		}
		path = append([]int{cur.Index()}, path...)
	}

	cp := target.Copy()
	parent := cp
	for _, idx := range path[:len(path)-1] {
		next, ok := parent.Child[idx].(*etree.Element)
		if !ok {
			return target
		}
		parent = next
	}
	parent.RemoveChildAt(path[len(path)-1])
	return cp
}

func findByID(root *etree.Element, id string) *etree.Element {
	if elementID(root) == id {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func textNodes(e *etree.Element) int {
	n := 0
	for _, tok := range e.Child {
		if _, ok := tok.(*etree.CharData); ok {
			n++
		}
	}
	return n
}

func decodeBase64Text(e *etree.Element) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: missing value", ErrMalformedSignature)
	}
	text := strings.Join(strings.Fields(e.Text()), "")
	out, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return out, nil
}
