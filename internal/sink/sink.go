// Package sink posts processed transaction outcomes to the result
// endpoints of the calling application.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
)

// ContentTypeJSON is sent and accepted by result endpoints
const ContentTypeJSON = "application/json"

// MaxAttempts bounds delivery of one outcome
const MaxAttempts = 5

// NewSender returns a plain HTTP(S) sender that makes up to MaxAttempts
// sends on network errors and gateway replies
func NewSender(timeout time.Duration, logger *slog.Logger) *transport.HTTPSClient {
	cfg := transport.DefaultHTTPSConfig()
	cfg.MaxRetries = MaxAttempts - 1
	cfg.Timeout = timeout
	cfg.Logger = logger
	return transport.NewHTTPSClient(cfg)
}

// HTTPSink posts JSON documents
type HTTPSink struct {
	sender  transport.Sender
	timeout time.Duration
}

// NewHTTPSink creates a sink posting through sender
func NewHTTPSink(sender transport.Sender, timeout time.Duration) *HTTPSink {
	return &HTTPSink{sender: sender, timeout: timeout}
}

// Send posts outcome as JSON to url
func (h *HTTPSink) Send(ctx context.Context, url string, outcome any) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	_, err = h.sender.Post(ctx, &transport.Request{
		URL:         url,
		Body:        body,
		ContentType: ContentTypeJSON,
		Accept:      ContentTypeJSON,
		Timeout:     h.timeout,
	})
	if err != nil {
		return fmt.Errorf("posting outcome to %s: %w", url, err)
	}
	return nil
}

// URLs holds one result endpoint per transaction. An empty URL disables
// posting for that transaction.
type URLs struct {
	PatientDiscovery  string
	DocumentQuery     string
	DocumentRetrieval string
}

// Sink routes outcomes to their endpoint. It implements gateway.Sink.
type Sink struct {
	http *HTTPSink
	urls URLs
}

// New creates a Sink
func New(http *HTTPSink, urls URLs) *Sink {
	return &Sink{http: http, urls: urls}
}

// PatientDiscovery posts an ITI-55 outcome
func (s *Sink) PatientDiscovery(ctx context.Context, resp *ihe.PatientDiscoveryResponse) error {
	return s.send(ctx, s.urls.PatientDiscovery, resp)
}

// DocumentQuery posts an ITI-38 outcome
func (s *Sink) DocumentQuery(ctx context.Context, resp *ihe.DocumentQueryResponse) error {
	return s.send(ctx, s.urls.DocumentQuery, resp)
}

// DocumentRetrieval posts an ITI-39 outcome
func (s *Sink) DocumentRetrieval(ctx context.Context, resp *ihe.DocumentRetrievalResponse) error {
	return s.send(ctx, s.urls.DocumentRetrieval, resp)
}

func (s *Sink) send(ctx context.Context, url string, outcome any) error {
	if url == "" {
		return nil
	}
	return s.http.Send(ctx, url, outcome)
}
