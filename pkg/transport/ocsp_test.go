package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

func newTLSIdentity(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "test gateway"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

type testPKI struct {
	ca     *x509.Certificate
	caKey  crypto.Signer
	leaf   *x509.Certificate
	status atomic.Int32
	hits   atomic.Int32
	server *httptest.Server
}

// newTestPKI creates a CA, an OCSP responder signed by the CA and a leaf
// certificate pointing at the responder.
func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	p := &testPKI{}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	p.ca, _ = x509.ParseCertificate(caDER)
	p.caKey = caKey

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		req, err := ocsp.ParseRequest(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tmpl := ocsp.Response{
			Status:       int(p.status.Load()),
			SerialNumber: req.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if tmpl.Status == ocsp.Revoked {
			tmpl.RevokedAt = time.Now().Add(-time.Minute)
		}
		resp, err := ocsp.CreateResponse(p.ca, p.ca, tmpl, p.caKey)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(resp)
	}))
	t.Cleanup(p.server.Close)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "gateway.example"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		OCSPServer:   []string{p.server.URL},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, p.ca, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	p.leaf, _ = x509.ParseCertificate(leafDER)
	return p
}

func TestOCSPChecker_Good(t *testing.T) {
	pki := newTestPKI(t)
	pki.status.Store(ocsp.Good)

	checker := NewOCSPChecker(&OCSPConfig{Timeout: 5 * time.Second, CacheTimeout: time.Hour, StrictMode: true})
	if err := checker.Check(context.Background(), pki.leaf, pki.ca); err != nil {
		t.Fatalf("expected good certificate to pass: %v", err)
	}

	// served from cache
	if err := checker.Check(context.Background(), pki.leaf, pki.ca); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := pki.hits.Load(); n != 1 {
		t.Errorf("expected 1 OCSP request, got %d", n)
	}
}

func TestOCSPChecker_Revoked(t *testing.T) {
	pki := newTestPKI(t)
	pki.status.Store(ocsp.Revoked)

	checker := NewOCSPChecker(nil)
	err := checker.Check(context.Background(), pki.leaf, pki.ca)
	if !errors.Is(err, ErrCertificateRevoked) {
		t.Fatalf("expected ErrCertificateRevoked, got %v", err)
	}
}

func TestOCSPChecker_Unknown(t *testing.T) {
	pki := newTestPKI(t)
	pki.status.Store(ocsp.Unknown)

	lenient := NewOCSPChecker(nil)
	if err := lenient.Check(context.Background(), pki.leaf, pki.ca); err != nil {
		t.Errorf("non-strict mode must accept unknown status: %v", err)
	}

	strict := NewOCSPChecker(&OCSPConfig{Timeout: 5 * time.Second, StrictMode: true})
	if err := strict.Check(context.Background(), pki.leaf, pki.ca); !errors.Is(err, ErrRevocationUnknown) {
		t.Errorf("expected ErrRevocationUnknown, got %v", err)
	}
}

func TestOCSPChecker_VerifyConnection(t *testing.T) {
	pki := newTestPKI(t)
	pki.status.Store(ocsp.Revoked)

	checker := NewOCSPChecker(nil)
	state := tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{pki.leaf, pki.ca}}}
	if err := checker.VerifyConnection(state); !errors.Is(err, ErrCertificateRevoked) {
		t.Errorf("expected ErrCertificateRevoked, got %v", err)
	}

	// no issuer available
	if err := checker.VerifyConnection(tls.ConnectionState{}); err != nil {
		t.Errorf("non-strict mode must accept missing chain: %v", err)
	}
}

func TestOCSPChecker_NoResponder(t *testing.T) {
	pki := newTestPKI(t)
	leaf := *pki.leaf
	leaf.OCSPServer = nil

	strict := NewOCSPChecker(&OCSPConfig{Timeout: time.Second, StrictMode: true})
	if err := strict.Check(context.Background(), &leaf, pki.ca); !errors.Is(err, ErrRevocationUnknown) {
		t.Errorf("expected ErrRevocationUnknown, got %v", err)
	}
}
