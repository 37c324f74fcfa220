package keystore

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/security"
)

// Files locates a PEM identity on disk
type Files struct {
	CertFile  string
	ChainFile string // optional
	KeyFile   string
	Password  string // empty for unencrypted keys
}

// FileProvider implements IdentityProvider using PEM files on disk
//
// The files are read on first use and cached until Close. The key is
// decrypted once at load time so a wrong password or a key that does not
// belong to the certificate fails early instead of on the first request.
type FileProvider struct {
	files Files

	mu       sync.RWMutex
	identity *ihe.SamlCertsAndKeys
	cert     *x509.Certificate
}

// NewFileProvider creates a new file-based identity provider
func NewFileProvider(files Files) (*FileProvider, error) {
	if files.CertFile == "" {
		return nil, ErrCertNotFound
	}
	if files.KeyFile == "" {
		return nil, ErrKeyNotFound
	}
	for _, path := range []string{files.CertFile, files.KeyFile} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("checking identity file: %w", err)
		}
	}
	return &FileProvider{files: files}, nil
}

// Identity returns the cached identity, loading it on first use
func (p *FileProvider) Identity(ctx context.Context) (ihe.SamlCertsAndKeys, error) {
	p.mu.RLock()
	if p.identity != nil {
		defer p.mu.RUnlock()
		return *p.identity, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		identity, cert, err := p.load()
		if err != nil {
			return ihe.SamlCertsAndKeys{}, err
		}
		p.identity = identity
		p.cert = cert
	}
	return *p.identity, nil
}

// Certificate returns the parsed signing certificate
func (p *FileProvider) Certificate(ctx context.Context) (*x509.Certificate, error) {
	if _, err := p.Identity(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cert, nil
}

// Info describes the loaded key
func (p *FileProvider) Info(ctx context.Context) (KeyInfo, error) {
	identity, err := p.Identity(ctx)
	if err != nil {
		return KeyInfo{}, err
	}
	cert, err := p.Certificate(ctx)
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{
		Algorithm:          keyAlgorithmName(cert.PublicKey),
		KeySize:            keySize(cert.PublicKey),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		CertificateSubject: cert.Subject.String(),
		ChainLength:        countCertificates([]byte(identity.CertChain)),
	}, nil
}

// Close drops the cached identity
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = nil
	p.cert = nil
	return nil
}

func (p *FileProvider) load() (*ihe.SamlCertsAndKeys, *x509.Certificate, error) {
	certPEM, err := os.ReadFile(p.files.CertFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrCertNotFound
		}
		return nil, nil, fmt.Errorf("reading certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(p.files.KeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrKeyNotFound
		}
		return nil, nil, fmt.Errorf("reading key file: %w", err)
	}
	var chainPEM []byte
	if p.files.ChainFile != "" {
		chainPEM, err = os.ReadFile(p.files.ChainFile)
		if err != nil {
			return nil, nil, fmt.Errorf("reading chain file: %w", err)
		}
	}

	cert, err := security.ParseCertificatePEM(string(certPEM))
	if err != nil {
		return nil, nil, fmt.Errorf("loading certificate: %w", err)
	}
	key, err := security.DecryptPrivateKey(string(keyPEM), p.files.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("loading private key: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, ErrNotRSAKey
	}
	if !pub.Equal(&key.PublicKey) {
		return nil, nil, ErrKeyMismatch
	}

	return &ihe.SamlCertsAndKeys{
		PublicCert:         string(certPEM),
		CertChain:          string(chainPEM),
		PrivateKey:         string(keyPEM),
		PrivateKeyPassword: p.files.Password,
	}, cert, nil
}

func countCertificates(data []byte) int {
	n := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return n
		}
		if block.Type == "CERTIFICATE" {
			n++
		}
	}
}

func keyAlgorithmName(pub any) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub any) int {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}
