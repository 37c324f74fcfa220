package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirosfoundation/go-ihe/internal/config"
	"github.com/sirosfoundation/go-ihe/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIdentity struct {
	dir      string
	certFile string
	keyFile  string
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func writeIdentity(t *testing.T, certKey, fileKey *rsa.PrivateKey, password string) testIdentity {
	t.Helper()
	dir := t.TempDir()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "gateway.example.com", Organization: []string{"Example Health"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &certKey.PublicKey, certKey)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(fileKey)}
	if password != "" {
		//nolint:staticcheck // legacy encrypted PEM is what gateways are issued
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(password), x509.PEMCipherAES256)
		require.NoError(t, err)
	}

	id := testIdentity{
		dir:      dir,
		certFile: filepath.Join(dir, "cert.pem"),
		keyFile:  filepath.Join(dir, "key.pem"),
	}
	require.NoError(t, os.WriteFile(id.certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(id.keyFile, pem.EncodeToMemory(block), 0o600))
	return id
}

func TestFileProvider_Identity(t *testing.T) {
	key := newKey(t)
	id := writeIdentity(t, key, key, "changeit")
	chainFile := filepath.Join(id.dir, "chain.pem")
	certPEM, err := os.ReadFile(id.certFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(chainFile, append(certPEM, certPEM...), 0o600))

	p, err := NewFileProvider(Files{CertFile: id.certFile, ChainFile: chainFile, KeyFile: id.keyFile, Password: "changeit"})
	require.NoError(t, err)

	identity, err := p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(certPEM), identity.PublicCert)
	assert.Equal(t, "changeit", identity.PrivateKeyPassword)

	// the loaded identity can be used for mutual TLS
	tlsCert, err := security.TLSCertificate(identity)
	require.NoError(t, err)
	assert.Len(t, tlsCert.Certificate, 3)

	info, err := p.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RSA", info.Algorithm)
	assert.Equal(t, 2048, info.KeySize)
	assert.Equal(t, 2, info.ChainLength)
	assert.Contains(t, info.CertificateSubject, "gateway.example.com")
	assert.False(t, info.Expired(time.Now()))
	assert.True(t, info.Expired(time.Now().Add(48*time.Hour)))
}

func TestFileProvider_WrongPassword(t *testing.T) {
	key := newKey(t)
	id := writeIdentity(t, key, key, "changeit")

	p, err := NewFileProvider(Files{CertFile: id.certFile, KeyFile: id.keyFile, Password: "wrong"})
	require.NoError(t, err)

	_, err = p.Identity(context.Background())
	assert.ErrorIs(t, err, security.ErrWrongPassword)
}

func TestFileProvider_KeyMismatch(t *testing.T) {
	id := writeIdentity(t, newKey(t), newKey(t), "")

	p, err := NewFileProvider(Files{CertFile: id.certFile, KeyFile: id.keyFile})
	require.NoError(t, err)

	_, err = p.Identity(context.Background())
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestFileProvider_MissingFiles(t *testing.T) {
	_, err := NewFileProvider(Files{KeyFile: "key.pem"})
	assert.ErrorIs(t, err, ErrCertNotFound)

	_, err = NewFileProvider(Files{CertFile: "cert.pem"})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = NewFileProvider(Files{
		CertFile: filepath.Join(t.TempDir(), "cert.pem"),
		KeyFile:  filepath.Join(t.TempDir(), "key.pem"),
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileProvider_CloseReloads(t *testing.T) {
	key := newKey(t)
	id := writeIdentity(t, key, key, "")

	p, err := NewFileProvider(Files{CertFile: id.certFile, KeyFile: id.keyFile})
	require.NoError(t, err)
	_, err = p.Identity(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, os.Remove(id.keyFile))

	_, err = p.Identity(context.Background())
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestNewProvider(t *testing.T) {
	key := newKey(t)
	id := writeIdentity(t, key, key, "")

	p, err := NewProvider(&config.IdentityConfig{CertFile: id.certFile, KeyFile: id.keyFile})
	require.NoError(t, err)
	cert, err := p.Certificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gateway.example.com", cert.Subject.CommonName)
}
