package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/youmark/pkcs8"
)

var (
	ErrNoPEMBlock    = errors.New("no PEM block found")
	ErrNotRSA        = errors.New("key is not RSA")
	ErrWrongPassword = errors.New("incorrect private key password")
)

var (
	beginCertificate = regexp.MustCompile(`-----BEGIN CERTIFICATE-----\r?\n?`)
	endCertificate   = regexp.MustCompile(`-----END CERTIFICATE-----\r?\n?`)
	newlines         = regexp.MustCompile(`\r?\n`)
)

// StripPEM removes the certificate armor and newlines, leaving the
// base64 DER body.
func StripPEM(certPEM string) string {
	s := beginCertificate.ReplaceAllString(certPEM, "")
	s = endCertificate.ReplaceAllString(s, "")
	return strings.TrimSpace(newlines.ReplaceAllString(s, ""))
}

// ParseCertificatePEM parses the first certificate of a PEM string. A
// bare base64 DER body without armor is accepted too.
func ParseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(certPEM)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(StripPEM(certPEM))
		if err != nil {
			return nil, ErrNoPEMBlock
		}
		der = decoded
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}

// PublicKeyInfo returns the base64 big-endian RSA modulus and exponent
// of the certificate's public key.
func PublicKeyInfo(certPEM string) (modulus, exponent string, err error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return "", "", err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", "", ErrNotRSA
	}
	modulus, exponent = rsaKeyValue(pub)
	return modulus, exponent, nil
}

func rsaKeyValue(pub *rsa.PublicKey) (modulus, exponent string) {
	e := pub.E
	var expBytes []byte
	for e > 0 {
		expBytes = append([]byte{byte(e & 0xff)}, expBytes...)
		e >>= 8
	}
	return base64.StdEncoding.EncodeToString(pub.N.Bytes()),
		base64.StdEncoding.EncodeToString(expBytes)
}

// DecryptPrivateKey parses an RSA private key from PEM. Supported forms:
// legacy Proc-Type encrypted PKCS#1, ENCRYPTED PRIVATE KEY (PKCS#8) and
// plain PKCS#1 or PKCS#8.
func DecryptPrivateKey(keyPEM, password string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	der := block.Bytes
	//nolint:staticcheck // legacy encrypted PEM is still issued by some CAs
	if x509.IsEncryptedPEMBlock(block) {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			if errors.Is(err, x509.IncorrectPasswordError) {
				return nil, ErrWrongPassword
			}
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		der = decrypted
	}

	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(der, []byte(password))
		if err != nil {
			if strings.Contains(err.Error(), "incorrect password") {
				return nil, ErrWrongPassword
			}
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		return key, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSA
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// TLSCertificate builds the client certificate used for mutual TLS from
// the SAML identity. The chain, if any, is appended after the leaf.
func TLSCertificate(keys ihe.SamlCertsAndKeys) (tls.Certificate, error) {
	key, err := DecryptPrivateKey(keys.PrivateKey, keys.PrivateKeyPassword)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := ParseCertificatePEM(keys.PublicCert)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	rest := []byte(keys.CertChain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert.Certificate = append(cert.Certificate, block.Bytes)
	}
	return cert, nil
}
