// Package keystore loads the gateway's signing identity
//
// The identity is a certificate, an optional chain and an RSA private key,
// possibly password protected. It is used both for the SAML holder-of-key
// assertion and the XML signature of every outbound request, and as the
// client certificate for mutual TLS.
//
// Key material is handed out as ihe.SamlCertsAndKeys, which never renders
// its contents in logs or fmt output.
package keystore

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
)

// Common errors
var (
	ErrKeyNotFound  = errors.New("signing key not found")
	ErrKeyMismatch  = errors.New("private key does not match certificate")
	ErrNotRSAKey    = errors.New("certificate does not carry an RSA key")
	ErrCertNotFound = errors.New("signing certificate not found")
)

// IdentityProvider supplies the signing identity
//
// Implementations must be safe for concurrent use.
type IdentityProvider interface {
	// Identity returns the PEM encoded certificate, chain, key and key
	// password.
	Identity(ctx context.Context) (ihe.SamlCertsAndKeys, error)

	// Certificate returns the parsed signing certificate.
	Certificate(ctx context.Context) (*x509.Certificate, error)

	// Info describes the loaded key.
	Info(ctx context.Context) (KeyInfo, error)

	// Close releases any resources held by the provider.
	Close() error
}

// KeyInfo describes a signing key
type KeyInfo struct {
	// Algorithm is the key algorithm (e.g., "RSA")
	Algorithm string

	// KeySize is the key size in bits
	KeySize int

	// NotBefore is when the associated certificate becomes valid
	NotBefore time.Time

	// NotAfter is when the associated certificate expires
	NotAfter time.Time

	// CertificateSubject is the subject DN of the certificate
	CertificateSubject string

	// ChainLength counts the certificates following the leaf
	ChainLength int
}

// Expired reports whether the certificate is outside its validity window
func (k KeyInfo) Expired(now time.Time) bool {
	return now.Before(k.NotBefore) || now.After(k.NotAfter)
}
