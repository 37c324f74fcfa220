// Package server provides the inbound XCPD responder.
//
// # Endpoints
//
//   - POST /xcpd   - Receives ITI-55 PRPA_IN201305UV02 requests and answers
//     with a PRPA_IN201306UV02 envelope
//   - GET  /health - Liveness probe
//
// Requests that cannot be parsed are answered with a SOAP 1.2 fault.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
	"github.com/sirosfoundation/go-ihe/pkg/xcpd"
)

// DefaultMaxBodyBytes limits inbound request bodies
const DefaultMaxBodyBytes = 4 << 20

const contentTypeSOAP = "application/soap+xml; charset=utf-8"

// PatientMatcher answers an inbound patient discovery query. A returned
// response with a true PatientMatch must carry both PatientResource and
// ExternalGatewayPatient.
type PatientMatcher interface {
	Match(ctx context.Context, req *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error)
}

// MatcherFunc adapts a function to PatientMatcher
type MatcherFunc func(ctx context.Context, req *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error)

// Match calls f
func (f MatcherFunc) Match(ctx context.Context, req *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error) {
	return f(ctx, req)
}

// NoMatch answers every query with an explicit no-match
type NoMatch struct{}

// Match returns PatientMatch false
func (NoMatch) Match(_ context.Context, req *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error) {
	return &ihe.PatientDiscoveryResponse{
		ResponseMeta: ihe.ResponseMeta{ID: req.ID, Timestamp: req.Timestamp},
		PatientMatch: ihe.Bool(false),
	}, nil
}

// Config configures the responder
type Config struct {
	// HomeCommunityID identifies this gateway in responses
	HomeCommunityID string
	Validity        time.Duration
	Matcher         PatientMatcher
	MaxBodyBytes    int64
	Logger          *slog.Logger
}

// Server is the inbound XCPD HTTP server
type Server struct {
	config Config
	logger *slog.Logger
	mux    *http.ServeMux

	mu      sync.Mutex
	httpSrv *transport.HTTPSServer
}

// New creates a responder. A nil Matcher answers no-match.
func New(cfg Config) *Server {
	if cfg.Matcher == nil {
		cfg.Matcher = NoMatch{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes(s.mux)
	return s
}

// Handler returns the routing handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves HTTPS on addr. It blocks until Shutdown.
func (s *Server) Start(addr string, tlsConfig *transport.HTTPSConfig) error {
	srv := transport.NewHTTPSServer(addr, tlsConfig, s.mux)
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.logger.Info("starting server", "addr", addr, "home_community_id", s.config.HomeCommunityID)
	return srv.Start()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /xcpd", s.handlePatientDiscovery)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handlePatientDiscovery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.fault(w, http.StatusRequestEntityTooLarge, "soap:Sender", "request body too large")
		return
	}

	req, err := xcpd.ParseInboundRequest(body)
	if err != nil {
		s.logger.Warn("rejecting XCPD request", "error", err, "content_length", r.ContentLength)
		s.fault(w, http.StatusBadRequest, "soap:Sender", err.Error())
		return
	}

	s.logger.Info("received XCPD request",
		"request_id", req.ID,
		"home_community_id", req.SamlAttributes.HomeCommunityID,
		"organization", req.SamlAttributes.Organization,
	)

	resp, err := s.config.Matcher.Match(r.Context(), req)
	if err != nil {
		s.logger.Error("patient matching failed", "request_id", req.ID, "error", err)
		resp = &ihe.PatientDiscoveryResponse{
			ResponseMeta: ihe.ResponseMeta{
				ID:               req.ID,
				OperationOutcome: ihe.AcknowledgementError(req.ID, "InternalError", ihe.CodeSystemError, err.Error()),
			},
		}
	}

	out, err := xcpd.BuildInboundResponse(req, resp, xcpd.InboundOptions{
		HomeCommunityID: s.config.HomeCommunityID,
		Validity:        s.config.Validity,
	})
	if err != nil {
		s.logger.Error("building XCPD response failed", "request_id", req.ID, "error", err)
		s.fault(w, http.StatusInternalServerError, "soap:Receiver", err.Error())
		return
	}

	s.logger.Info("XCPD request answered", "request_id", req.ID, "patient_match", matchLabel(resp.PatientMatch))

	w.Header().Set("Content-Type", contentTypeSOAP)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

func (s *Server) fault(w http.ResponseWriter, status int, code, reason string) {
	out, err := soap.NewFault(code, reason).WriteToString()
	if err != nil {
		http.Error(w, reason, status)
		return
	}
	w.Header().Set("Content-Type", contentTypeSOAP)
	w.WriteHeader(status)
	io.WriteString(w, out)
}

func matchLabel(match *bool) string {
	switch {
	case match == nil:
		return "error"
	case *match:
		return "match"
	default:
		return "no_match"
	}
}
