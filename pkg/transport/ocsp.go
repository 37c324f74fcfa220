package transport

import (
	"bytes"
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	ErrCertificateRevoked = errors.New("certificate revoked")
	ErrRevocationUnknown  = errors.New("revocation status unknown")
)

// OCSPConfig configures revocation checking of gateway certificates
type OCSPConfig struct {
	// HTTPClient for OCSP requests (optional)
	HTTPClient *http.Client
	Timeout    time.Duration
	// CacheTimeout bounds how long a status is reused per serial number
	CacheTimeout time.Duration
	// StrictMode rejects certificates whose status cannot be determined
	StrictMode bool
	Logger     *slog.Logger
}

// DefaultOCSPConfig returns default configuration
func DefaultOCSPConfig() *OCSPConfig {
	return &OCSPConfig{
		Timeout:      10 * time.Second,
		CacheTimeout: time.Hour,
	}
}

// OCSPChecker checks remote gateway certificates against their OCSP
// responder during the TLS handshake.
type OCSPChecker struct {
	config     *OCSPConfig
	httpClient *http.Client
	cache      *ocspCache
	logger     *slog.Logger
}

// NewOCSPChecker creates a checker. A nil config uses DefaultOCSPConfig.
func NewOCSPChecker(config *OCSPConfig) *OCSPChecker {
	if config == nil {
		config = DefaultOCSPConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OCSPChecker{
		config:     config,
		httpClient: client,
		cache:      newOCSPCache(config.CacheTimeout),
		logger:     logger,
	}
}

// VerifyConnection is a tls.Config.VerifyConnection hook. It runs after
// chain verification, so the verified chain provides the issuer.
func (c *OCSPChecker) VerifyConnection(cs tls.ConnectionState) error {
	var chain []*x509.Certificate
	if len(cs.VerifiedChains) > 0 {
		chain = cs.VerifiedChains[0]
	}
	if len(chain) < 2 {
		return c.undetermined(fmt.Errorf("%w: no issuer in verified chain", ErrRevocationUnknown))
	}
	leaf, issuer := chain[0], chain[1]

	if len(cs.OCSPResponse) > 0 {
		if resp, err := ocsp.ParseResponseForCert(cs.OCSPResponse, leaf, issuer); err == nil {
			return c.decide(leaf, statusError(resp.Status))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.Check(ctx, leaf, issuer)
}

// Check queries the OCSP responder named in cert. Revoked certificates
// always fail; other failures only fail in strict mode.
func (c *OCSPChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil || issuer == nil {
		return errors.New("certificate and issuer are required")
	}
	return c.decide(cert, c.query(ctx, cert, issuer))
}

func (c *OCSPChecker) decide(cert *x509.Certificate, status error) error {
	if status == nil {
		return nil
	}
	if errors.Is(status, ErrCertificateRevoked) {
		c.logger.Warn("gateway certificate revoked", "subject", cert.Subject.String(), "serial", cert.SerialNumber.String())
		return fmt.Errorf("%w: %s", ErrCertificateRevoked, cert.Subject.String())
	}
	return c.undetermined(status)
}

func (c *OCSPChecker) undetermined(err error) error {
	if c.config.StrictMode {
		return err
	}
	c.logger.Debug("ocsp status undetermined, accepting", "error", err)
	return nil
}

func (c *OCSPChecker) query(ctx context.Context, cert, issuer *x509.Certificate) error {
	key := cert.SerialNumber.String()
	if cached, ok := c.cache.get(key); ok {
		return cached
	}

	if len(cert.OCSPServer) == 0 {
		return fmt.Errorf("%w: no OCSP server in certificate", ErrRevocationUnknown)
	}

	der, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("creating OCSP request: %w", err)
	}

	raw, err := c.fetch(ctx, cert.OCSPServer[0], der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnknown, err)
	}

	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return fmt.Errorf("%w: parsing OCSP response: %v", ErrRevocationUnknown, err)
	}

	result := statusError(resp.Status)
	c.cache.set(key, result)
	return result
}

func statusError(status int) error {
	switch status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return ErrCertificateRevoked
	default:
		return ErrRevocationUnknown
	}
}

// fetch POSTs the request and falls back to GET
func (c *OCSPChecker) fetch(ctx context.Context, server string, der []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(der))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return io.ReadAll(resp.Body)
		}
	}

	getURL := server + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(der))
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type ocspCache struct {
	mu      sync.RWMutex
	entries map[string]ocspEntry
	ttl     time.Duration
}

type ocspEntry struct {
	status    error
	checkedAt time.Time
}

func newOCSPCache(ttl time.Duration) *ocspCache {
	return &ocspCache{entries: make(map[string]ocspEntry), ttl: ttl}
}

func (c *ocspCache) get(serial string) (error, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[serial]
	if !ok || time.Since(e.checkedAt) > c.ttl {
		return nil, false
	}
	return e.status, true
}

func (c *ocspCache) set(serial string, status error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[serial] = ocspEntry{status: status, checkedAt: time.Now()}
}
