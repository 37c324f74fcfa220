package gateway

import (
	"context"
	"crypto"
	"errors"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/mtom"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
	"github.com/sirosfoundation/go-ihe/pkg/xca"
	"github.com/sirosfoundation/go-ihe/pkg/xcpd"
	"golang.org/x/sync/errgroup"
)

// Transaction names used in logs, archive keys and records
const (
	TransactionXCPD = "xcpd"
	TransactionDQ   = "dq"
	TransactionDR   = "dr"
)

var (
	ErrNoTransport = errors.New("gateway: transport is required")
	ErrNoKeys      = errors.New("gateway: signing certificate and key are required")
	ErrNoStore     = errors.New("gateway: document store is required for retrieval")
)

// Exchange identifies one raw gateway response handed to an Archiver
type Exchange struct {
	Transaction  string
	CxID         string
	PatientID    string
	RequestID    string
	Timestamp    string
	OID          string
	SubRequestID string
}

// Archiver keeps raw gateway responses for later inspection
type Archiver interface {
	Archive(ctx context.Context, ex Exchange, body []byte) error
}

// Sink receives processed outcomes
type Sink interface {
	PatientDiscovery(ctx context.Context, resp *ihe.PatientDiscoveryResponse) error
	DocumentQuery(ctx context.Context, resp *ihe.DocumentQueryResponse) error
	DocumentRetrieval(ctx context.Context, resp *ihe.DocumentRetrievalResponse) error
}

// Recorder persists processed outcomes for reporting
type Recorder interface {
	RecordPatientDiscovery(ctx context.Context, resp *ihe.PatientDiscoveryResponse) error
	RecordDocumentQuery(ctx context.Context, resp *ihe.DocumentQueryResponse) error
	RecordDocumentRetrieval(ctx context.Context, resp *ihe.DocumentRetrievalResponse) error
}

// TransactionConfig holds the retry budget and per-request timeout of one
// transaction type
type TransactionConfig struct {
	Retry   RetryConfig
	Timeout time.Duration
}

// Config holds the client's collaborators and settings. Sink, Archiver
// and Recorder are optional.
type Config struct {
	Transport transport.Sender
	Keys      ihe.SamlCertsAndKeys
	Store     xca.DocumentStore
	// Location is reported as the FileLocation of stored documents
	Location string

	Sink     Sink
	Archiver Archiver
	Recorder Recorder

	Policy ihe.RetryPolicy
	XCPD   TransactionConfig
	DQ     TransactionConfig
	DR     TransactionConfig

	// SHA1Targets lists gateway URLs or OIDs that only accept SHA-1
	// signatures
	SHA1Targets       []string
	ReplyTo           string
	Issuer            string
	TimestampValidity time.Duration
	// MaxConcurrency bounds fan-out; zero means unbounded
	MaxConcurrency int

	Logger *slog.Logger
}

// DefaultConfig returns the default retry budgets and timeouts
func DefaultConfig() *Config {
	retry := RetryConfig{MaxAttempts: 3, InitialDelay: 3 * time.Second, Jitter: time.Second}
	return &Config{
		Policy:            ihe.DefaultRetryPolicy(),
		XCPD:              TransactionConfig{Retry: retry, Timeout: 45 * time.Second},
		DQ:                TransactionConfig{Retry: retry, Timeout: 5 * time.Minute},
		DR:                TransactionConfig{Retry: retry, Timeout: 10 * time.Minute},
		TimestampValidity: 5 * time.Minute,
	}
}

// Client runs IHE transactions against responding gateways
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient validates cfg and fills unset settings from DefaultConfig
func NewClient(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.Keys.PublicCert == "" || cfg.Keys.PrivateKey == "" {
		return nil, ErrNoKeys
	}

	defaults := DefaultConfig()
	if cfg.Policy.NonRetryable == nil {
		cfg.Policy = defaults.Policy
	}
	if cfg.XCPD == (TransactionConfig{}) {
		cfg.XCPD = defaults.XCPD
	}
	if cfg.DQ == (TransactionConfig{}) {
		cfg.DQ = defaults.DQ
	}
	if cfg.DR == (TransactionConfig{}) {
		cfg.DR = defaults.DR
	}
	if cfg.TimestampValidity == 0 {
		cfg.TimestampValidity = defaults.TimestampValidity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{cfg: cfg, logger: logger}, nil
}

// DiscoverPatient runs ITI-55 against a single gateway of req
func (c *Client) DiscoverPatient(ctx context.Context, req *ihe.PatientDiscoveryRequest, gw ihe.XCPDGateway) (*ihe.PatientDiscoveryResponse, error) {
	single := req.ForGateway(gw)
	if err := single.Validate(); err != nil {
		return nil, err
	}
	logger := c.logger.With("transaction", TransactionXCPD, "request_id", req.ID, "oid", gw.OID)
	opts := xcpd.Options{
		ReplyTo:  c.cfg.ReplyTo,
		Issuer:   c.cfg.Issuer,
		Validity: c.cfg.TimestampValidity,
		Hash:     c.hashFor(gw.URL, gw.OID),
	}

	resp, err := Execute(ctx, c.cfg.XCPD.Retry, func(ctx context.Context, attempt int) (*ihe.PatientDiscoveryResponse, error) {
		signed, err := xcpd.BuildRequests(single, c.cfg.Keys, opts)
		if err != nil {
			return nil, err
		}
		result := &xcpd.Result{Gateway: gw, Request: signed[0].Request}
		result.Body, _, result.Err = c.send(ctx, gw.URL, []byte(signed[0].SignedXML), transport.ContentTypeSOAP, c.cfg.XCPD.Timeout)
		c.archive(ctx, logger, Exchange{
			Transaction: TransactionXCPD,
			CxID:        req.CxID,
			PatientID:   req.PatientID,
			RequestID:   req.ID,
			Timestamp:   req.Timestamp,
			OID:         gw.OID,
		}, result.Body)

		resp := xcpd.ProcessResponse(result)
		logAttempt(logger, attempt, resp.OperationOutcome)
		return resp, nil
	}, retryable[*ihe.PatientDiscoveryResponse](c.cfg.Policy))
	if err != nil {
		return nil, err
	}
	c.publishPatientDiscovery(ctx, logger, resp)
	return resp, nil
}

// DiscoverPatients runs ITI-55 against every gateway of req concurrently.
// Results are in gateway order; a gateway failing fatally yields a
// schema-error outcome instead of aborting the others.
func (c *Client) DiscoverPatients(ctx context.Context, req *ihe.PatientDiscoveryRequest) ([]*ihe.PatientDiscoveryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out := make([]*ihe.PatientDiscoveryResponse, len(req.Gateways))
	g := c.group()
	for i, gw := range req.Gateways {
		i, gw := i, gw
		g.Go(func() error {
			resp, err := c.DiscoverPatient(ctx, req, gw)
			if err != nil {
				c.logger.Error("patient discovery failed", "request_id", req.ID, "oid", gw.OID, "error", err)
				resp = &ihe.PatientDiscoveryResponse{
					ResponseMeta: failedMeta(req.ID, req.PatientID, req.Timestamp, err),
					Gateway:      gw,
				}
			}
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// QueryDocuments runs ITI-38 against req's gateway
func (c *Client) QueryDocuments(ctx context.Context, req *ihe.DocumentQueryRequest) (*ihe.DocumentQueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	gw := req.Gateway
	logger := c.logger.With("transaction", TransactionDQ, "request_id", req.ID, "oid", gw.HomeCommunityID)
	opts := xca.Options{
		ReplyTo:  c.cfg.ReplyTo,
		Issuer:   c.cfg.Issuer,
		Validity: c.cfg.TimestampValidity,
		Hash:     c.hashFor(gw.URL, gw.HomeCommunityID),
	}

	resp, err := Execute(ctx, c.cfg.DQ.Retry, func(ctx context.Context, attempt int) (*ihe.DocumentQueryResponse, error) {
		signed, err := xca.SignQueryRequest(req, c.cfg.Keys, opts)
		if err != nil {
			return nil, err
		}
		result := &xca.QueryResult{Request: req}
		result.Body, _, result.Err = c.send(ctx, gw.URL, []byte(signed.SignedXML), transport.ContentTypeSOAP, c.cfg.DQ.Timeout)
		c.archive(ctx, logger, Exchange{
			Transaction: TransactionDQ,
			CxID:        req.CxID,
			PatientID:   req.PatientID,
			RequestID:   req.ID,
			Timestamp:   req.Timestamp,
			OID:         gw.HomeCommunityID,
		}, result.Body)

		resp := xca.ProcessQueryResponse(result)
		logAttempt(logger, attempt, resp.OperationOutcome, "documents", len(resp.DocumentReference))
		return resp, nil
	}, retryable[*ihe.DocumentQueryResponse](c.cfg.Policy))
	if err != nil {
		return nil, err
	}
	c.publishDocumentQuery(ctx, logger, resp)
	return resp, nil
}

// QueryAll runs every query concurrently and returns the responses in
// input order
func (c *Client) QueryAll(ctx context.Context, reqs []*ihe.DocumentQueryRequest) []*ihe.DocumentQueryResponse {
	out := make([]*ihe.DocumentQueryResponse, len(reqs))
	g := c.group()
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := c.QueryDocuments(ctx, req)
			if err != nil {
				logger := c.logger.With("transaction", TransactionDQ, "request_id", req.ID, "oid", req.Gateway.HomeCommunityID)
				logger.Error("document query failed", "error", err)
				resp = &ihe.DocumentQueryResponse{
					ResponseMeta: failedMeta(req.ID, req.PatientID, req.Timestamp, err),
					Gateway:      req.Gateway,
				}
				c.publishDocumentQuery(ctx, logger, resp)
			}
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RetrieveDocuments runs ITI-39 against req's gateway and stores every
// returned document
func (c *Client) RetrieveDocuments(ctx context.Context, req *ihe.DocumentRetrievalRequest) (*ihe.DocumentRetrievalResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.cfg.Store == nil {
		return nil, ErrNoStore
	}
	gw := req.Gateway
	logger := c.logger.With("transaction", TransactionDR, "request_id", req.ID, "oid", gw.HomeCommunityID)
	opts := xca.Options{
		ReplyTo:  c.cfg.ReplyTo,
		Issuer:   c.cfg.Issuer,
		Validity: c.cfg.TimestampValidity,
		Hash:     c.hashFor(gw.URL, gw.HomeCommunityID),
	}
	processor := &xca.RetrieveProcessor{Store: c.cfg.Store, Location: c.cfg.Location, Logger: logger}

	resp, err := Execute(ctx, c.cfg.DR.Retry, func(ctx context.Context, attempt int) (*ihe.DocumentRetrievalResponse, error) {
		signed, err := xca.SignRetrieveRequest(req, c.cfg.Keys, opts)
		if err != nil {
			return nil, err
		}
		payload, err := mtom.BuildPayload(signed.SignedXML)
		if err != nil {
			return nil, err
		}
		result := &xca.RetrieveResult{Request: req}
		result.Body, result.ContentType, result.Err = c.send(ctx, gw.URL, payload.Body, payload.ContentType, c.cfg.DR.Timeout)
		c.archive(ctx, logger, Exchange{
			Transaction:  TransactionDR,
			CxID:         req.CxID,
			PatientID:    req.PatientID,
			RequestID:    req.ID,
			Timestamp:    req.Timestamp,
			OID:          gw.HomeCommunityID,
			SubRequestID: req.RequestChunkID,
		}, result.Body)

		resp, err := processor.Process(ctx, result)
		if err != nil {
			return nil, err
		}
		logAttempt(logger, attempt, resp.OperationOutcome, "documents", len(resp.DocumentReference))
		return resp, nil
	}, retryable[*ihe.DocumentRetrievalResponse](c.cfg.Policy))
	if err != nil {
		return nil, err
	}
	c.publishDocumentRetrieval(ctx, logger, resp)
	return resp, nil
}

// RetrieveAll runs every retrieval concurrently and returns the responses
// in input order
func (c *Client) RetrieveAll(ctx context.Context, reqs []*ihe.DocumentRetrievalRequest) []*ihe.DocumentRetrievalResponse {
	out := make([]*ihe.DocumentRetrievalResponse, len(reqs))
	g := c.group()
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := c.RetrieveDocuments(ctx, req)
			if err != nil {
				logger := c.logger.With("transaction", TransactionDR, "request_id", req.ID, "oid", req.Gateway.HomeCommunityID)
				logger.Error("document retrieval failed", "error", err)
				resp = &ihe.DocumentRetrievalResponse{
					ResponseMeta:   failedMeta(req.ID, req.PatientID, req.Timestamp, err),
					Gateway:        req.Gateway,
					RequestChunkID: req.RequestChunkID,
				}
				c.publishDocumentRetrieval(ctx, logger, resp)
			}
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Client) send(ctx context.Context, url string, body []byte, contentType string, timeout time.Duration) ([]byte, string, error) {
	resp, err := c.cfg.Transport.Post(ctx, &transport.Request{
		URL:         url,
		Body:        body,
		ContentType: contentType,
		Accept:      transport.AcceptSOAP,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

func (c *Client) hashFor(url, oid string) crypto.Hash {
	for _, target := range c.cfg.SHA1Targets {
		if target != "" && (target == url || target == oid) {
			return crypto.SHA1
		}
	}
	return crypto.SHA256
}

func (c *Client) group() *errgroup.Group {
	g := new(errgroup.Group)
	if c.cfg.MaxConcurrency > 0 {
		g.SetLimit(c.cfg.MaxConcurrency)
	}
	return g
}

func (c *Client) archive(ctx context.Context, logger *slog.Logger, ex Exchange, body []byte) {
	if c.cfg.Archiver == nil || len(body) == 0 {
		return
	}
	bestEffort(logger, "archive", func() error {
		return c.cfg.Archiver.Archive(ctx, ex, body)
	})
}

func (c *Client) publishPatientDiscovery(ctx context.Context, logger *slog.Logger, resp *ihe.PatientDiscoveryResponse) {
	if c.cfg.Recorder != nil {
		bestEffort(logger, "record", func() error {
			return c.cfg.Recorder.RecordPatientDiscovery(ctx, resp)
		})
	}
	// only matches are reported upstream
	if c.cfg.Sink != nil && resp.PatientMatch != nil && *resp.PatientMatch {
		bestEffort(logger, "sink", func() error {
			return c.cfg.Sink.PatientDiscovery(ctx, resp)
		})
	}
}

func (c *Client) publishDocumentQuery(ctx context.Context, logger *slog.Logger, resp *ihe.DocumentQueryResponse) {
	if c.cfg.Recorder != nil {
		bestEffort(logger, "record", func() error {
			return c.cfg.Recorder.RecordDocumentQuery(ctx, resp)
		})
	}
	if c.cfg.Sink != nil {
		bestEffort(logger, "sink", func() error {
			return c.cfg.Sink.DocumentQuery(ctx, resp)
		})
	}
}

func (c *Client) publishDocumentRetrieval(ctx context.Context, logger *slog.Logger, resp *ihe.DocumentRetrievalResponse) {
	if c.cfg.Recorder != nil {
		bestEffort(logger, "record", func() error {
			return c.cfg.Recorder.RecordDocumentRetrieval(ctx, resp)
		})
	}
	if c.cfg.Sink != nil {
		bestEffort(logger, "sink", func() error {
			return c.cfg.Sink.DocumentRetrieval(ctx, resp)
		})
	}
}

// bestEffort runs a side effect whose failure must not change the
// transaction's result
func bestEffort(logger *slog.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("side effect panicked", "effect", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("side effect failed", "effect", name, "error", err)
	}
}

type outcomer interface {
	Outcome() *ihe.OperationOutcome
}

func retryable[T outcomer](policy ihe.RetryPolicy) func(T) bool {
	return func(resp T) bool {
		return policy.IsRetryable(resp.Outcome())
	}
}

func logAttempt(logger *slog.Logger, attempt int, outcome *ihe.OperationOutcome, attrs ...any) {
	attrs = append(attrs, "attempt", attempt+1)
	if outcome != nil && len(outcome.Issue) > 0 {
		issue := outcome.Issue[0]
		attrs = append(attrs, "severity", issue.Severity, "code", issue.Code)
	}
	logger.Info("gateway attempt", attrs...)
}

func failedMeta(id, patientID, timestamp string, err error) ihe.ResponseMeta {
	return ihe.ResponseMeta{
		ID:                id,
		PatientID:         patientID,
		Timestamp:         timestamp,
		ResponseTimestamp: ihe.Now(),
		OperationOutcome:  ihe.SchemaError(id, err.Error()),
		IHEGatewayV2:      true,
	}
}
