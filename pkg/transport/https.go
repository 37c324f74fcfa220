package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Content types used on the wire
const (
	ContentTypeSOAP = "application/soap+xml;charset=UTF-8"
	AcceptSOAP      = "application/soap+xml"
)

// Error codes carried by *Error
const (
	CodeTimeout = "ETIMEDOUT"
	CodeNetwork = "ECONNRESET"
	CodeStatus  = "EHTTPSTATUS"
)

// Recommended TLS 1.2 cipher suites. Several national gateways still
// terminate TLS 1.2 only.
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

var (
	ErrEmptyTrustBundle = errors.New("trust bundle contains no certificates")
	ErrNoCertificates   = errors.New("no TLS certificates configured")
)

// Error is a transport failure that happened before any response body
// could be processed.
type Error struct {
	StatusCode int
	Code       string
	Retryable  bool
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request is a single POST to a gateway
type Request struct {
	URL         string
	Body        []byte
	ContentType string
	Accept      string
	// Timeout bounds each attempt; zero uses the client timeout
	Timeout time.Duration
}

// Response is the raw reply of a gateway
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Sender posts requests to remote gateways
type Sender interface {
	Post(ctx context.Context, req *Request) (*Response, error)
}

// HTTPSConfig contains HTTPS client/server configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration

	// MaxRetries is the number of extra sends after a network error or a
	// 502, 503 or 504 reply.
	MaxRetries int
	RetryDelay time.Duration

	// OCSP, when set, checks the revocation status of server certificates
	OCSP *OCSPChecker

	Logger *slog.Logger
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxRetries:      2,
		RetryDelay:      time.Second,
	}
}

// LoadTrustBundle replaces RootCAs with the certificates of the bundle
func (c *HTTPSConfig) LoadTrustBundle(ctx context.Context, loader TrustBundleLoader) error {
	bundle, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading trust bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(bundle)) {
		return ErrEmptyTrustBundle
	}
	c.RootCAs = pool
	return nil
}

// HTTPSClient posts SOAP messages to gateways over mutual TLS
type HTTPSClient struct {
	client *http.Client
	config *HTTPSConfig
	logger *slog.Logger
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		RootCAs:      config.RootCAs,
	}
	if config.OCSP != nil {
		tlsConfig.VerifyConnection = config.OCSP.VerifyConnection
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPSClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
		logger: logger,
	}
}

// Post sends req, retrying retryable failures up to MaxRetries times.
// Non-2xx replies are returned as *Error.
func (c *HTTPSClient) Post(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying gateway request", "url", req.URL, "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, c.config.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.post(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var terr *Error
		if !errors.As(err, &terr) || !terr.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPSClient) post(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeSOAP
	}
	accept := req.Accept
	if accept == "" {
		accept = AcceptSOAP
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", "go-ihe/1.0")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Code:       CodeStatus,
			Retryable:  retryableStatus(resp.StatusCode),
			Body:       truncate(string(body), 512),
		}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func networkError(err error) *Error {
	code := CodeNetwork
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		code = CodeTimeout
	}
	// a cancelled caller is not worth another attempt
	retryable := !errors.Is(err, context.Canceled)
	return &Error{Code: code, Retryable: retryable, Err: err}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPSServer serves inbound gateway transactions over HTTPS
type HTTPSServer struct {
	server *http.Server
	config *HTTPSConfig
}

// NewHTTPSServer creates a new HTTPS server for handler
func NewHTTPSServer(addr string, config *HTTPSConfig, handler http.Handler) *HTTPSServer {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		ClientCAs:    config.ClientCAs,
		ClientAuth:   config.ClientAuth,
	}

	return &HTTPSServer{
		config: config,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			TLSConfig:    tlsConfig,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  config.IdleConnTimeout,
		},
	}
}

// Start starts the HTTPS server. It blocks until Shutdown.
func (s *HTTPSServer) Start() error {
	if len(s.config.Certificates) == 0 {
		return ErrNoCertificates
	}
	err := s.server.ListenAndServeTLS("", "")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *HTTPSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
