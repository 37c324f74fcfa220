package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // legacy gateways only accept SHA-1
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

var (
	ErrSelfVerification = errors.New("signed document failed self-verification")
	ErrNoSignature      = errors.New("no signature found")
	ErrElementNotFound  = errors.New("element to sign not found")
	ErrMissingID        = errors.New("element has no id attribute")
	ErrUnsupportedHash  = errors.New("unsupported hash algorithm")
)

// XML-DSig algorithm identifiers
const (
	AlgExcC14N      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgEnveloped    = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgRSASHA1      = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgDigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgDigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
)

// Signer applies the timestamp and assertion signatures of the SAML
// security header.
type Signer struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	hash crypto.Hash
}

// NewSigner creates a signer. hash is crypto.SHA256 (the default when
// zero) or crypto.SHA1 for legacy destinations.
func NewSigner(key *rsa.PrivateKey, cert *x509.Certificate, hash crypto.Hash) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	switch hash {
	case 0:
		hash = crypto.SHA256
	case crypto.SHA256, crypto.SHA1:
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, hash)
	}
	return &Signer{key: key, cert: cert, hash: hash}, nil
}

// SignTimestamp signs the wsu:Timestamp and inserts the signature right
// after the assertion's Issuer.
func (s *Signer) SignTimestamp(xml string) (string, error) {
	doc, err := readDocument(xml)
	if err != nil {
		return "", err
	}

	ts := doc.FindElement("//Timestamp")
	if ts == nil {
		return "", fmt.Errorf("%w: Timestamp", ErrElementNotFound)
	}
	assertion := doc.FindElement("//Assertion")
	if assertion == nil {
		return "", fmt.Errorf("%w: Assertion", ErrElementNotFound)
	}

	sig, err := s.signElement(ts, false)
	if err != nil {
		return "", fmt.Errorf("signing timestamp: %w", err)
	}
	insertAfterIssuer(assertion, sig)
	return writeDocument(doc)
}

// SignEnvelope signs the SAML assertion with the enveloped-signature
// transform. The signature is inserted right after the Issuer.
func (s *Signer) SignEnvelope(xml string) (string, error) {
	doc, err := readDocument(xml)
	if err != nil {
		return "", err
	}

	assertion := doc.FindElement("//Assertion")
	if assertion == nil {
		return "", fmt.Errorf("%w: Assertion", ErrElementNotFound)
	}

	sig, err := s.signElement(assertion, true)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	insertAfterIssuer(assertion, sig)
	return writeDocument(doc)
}

// SignFull decrypts the private key, signs the timestamp and then the
// assertion, and verifies the result against the public certificate.
func SignFull(xml string, keys ihe.SamlCertsAndKeys, hash crypto.Hash) (string, error) {
	key, err := DecryptPrivateKey(keys.PrivateKey, keys.PrivateKeyPassword)
	if err != nil {
		return "", fmt.Errorf("loading private key: %w", err)
	}
	cert, err := ParseCertificatePEM(keys.PublicCert)
	if err != nil {
		return "", fmt.Errorf("loading public certificate: %w", err)
	}
	signer, err := NewSigner(key, cert, hash)
	if err != nil {
		return "", err
	}

	signed, err := signer.SignTimestamp(xml)
	if err != nil {
		return "", err
	}
	signed, err = signer.SignEnvelope(signed)
	if err != nil {
		return "", err
	}

	if err := Validate(signed, keys.PublicCert); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSelfVerification, err)
	}
	return signed, nil
}

func (s *Signer) signElement(target *etree.Element, enveloped bool) (*etree.Element, error) {
	id := elementID(target)
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingID, target.Tag)
	}

	canonical, err := canonicalize(target)
	if err != nil {
		return nil, err
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", soap.NsDS)

	// SignedInfo is canonicalized detached from Signature
	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", soap.NsDS)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", signatureAlgorithm(s.hash))

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "#"+id)
	transforms := ref.CreateElement("ds:Transforms")
	if enveloped {
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgEnveloped)
	}
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgExcC14N)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", digestAlgorithm(s.hash))
	ref.CreateElement("ds:DigestValue").SetText(
		base64.StdEncoding.EncodeToString(digest(s.hash, []byte(canonical))))

	canonicalSignedInfo, err := canonicalize(signedInfo)
	if err != nil {
		return nil, err
	}
	value, err := rsa.SignPKCS1v15(rand.Reader, s.key, s.hash, digest(s.hash, []byte(canonicalSignedInfo)))
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	pub := &s.key.PublicKey
	if s.cert != nil {
		if certPub, ok := s.cert.PublicKey.(*rsa.PublicKey); ok {
			pub = certPub
		}
	}
	modulus, exponent := rsaKeyValue(pub)
	rsaValue := sig.CreateElement("ds:KeyInfo").CreateElement("ds:KeyValue").CreateElement("ds:RSAKeyValue")
	rsaValue.CreateElement("ds:Modulus").SetText(modulus)
	rsaValue.CreateElement("ds:Exponent").SetText(exponent)

	return sig, nil
}

func canonicalize(e *etree.Element) (string, error) {
	c14n := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := c14n.ProcessElement(e, "")
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", e.Tag, err)
	}
	return out, nil
}

// insertAfterIssuer places sig as the sibling immediately following the
// assertion's Issuer, or first when there is no Issuer.
func insertAfterIssuer(assertion, sig *etree.Element) {
	issuer := assertion.SelectElement("Issuer")
	if issuer == nil {
		assertion.InsertChildAt(0, sig)
		return
	}
	assertion.InsertChildAt(issuer.Index()+1, sig)
}

// elementID returns the Id or ID attribute in any namespace
func elementID(e *etree.Element) string {
	for _, attr := range e.Attr {
		if attr.Space == "xmlns" {
			continue
		}
		if attr.Key == "Id" || attr.Key == "ID" {
			return attr.Value
		}
	}
	return ""
}

func readDocument(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("no root element found")
	}
	return doc, nil
}

// writeDocument serializes without indentation so the signed elements
// keep their canonical form on the wire.
func writeDocument(doc *etree.Document) (string, error) {
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed document: %w", err)
	}
	return out, nil
}

func digest(h crypto.Hash, data []byte) []byte {
	if h == crypto.SHA1 {
		sum := sha1.Sum(data) //nolint:gosec
		return sum[:]
	}
	sum := sha256.Sum256(data)
	return sum[:]
}

func signatureAlgorithm(h crypto.Hash) string {
	if h == crypto.SHA1 {
		return AlgRSASHA1
	}
	return AlgRSASHA256
}

func digestAlgorithm(h crypto.Hash) string {
	if h == crypto.SHA1 {
		return AlgDigestSHA1
	}
	return AlgDigestSHA256
}

// hashFromAlgorithm maps a SignatureMethod or DigestMethod URI to a hash
func hashFromAlgorithm(uri string) (crypto.Hash, error) {
	switch uri {
	case AlgRSASHA256, AlgDigestSHA256:
		return crypto.SHA256, nil
	case AlgRSASHA1, AlgDigestSHA1:
		return crypto.SHA1, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, uri)
	}
}
