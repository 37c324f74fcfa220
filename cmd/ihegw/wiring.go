package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sirosfoundation/go-ihe/internal/config"
	"github.com/sirosfoundation/go-ihe/internal/keystore"
	"github.com/sirosfoundation/go-ihe/internal/monitor"
	"github.com/sirosfoundation/go-ihe/internal/report"
	"github.com/sirosfoundation/go-ihe/internal/sink"
	"github.com/sirosfoundation/go-ihe/internal/storage"
	"github.com/sirosfoundation/go-ihe/internal/storage/mongodb"
	"github.com/sirosfoundation/go-ihe/pkg/gateway"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/security"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
)

// newLogger builds the process logger from the logging section
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// app holds the collaborators of one CLI invocation
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	identity keystore.IdentityProvider
	keys     ihe.SamlCertsAndKeys
	tls      *transport.HTTPSConfig

	closers []func(context.Context) error
}

func loadApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
}

// loadIdentity reads the signing identity and prepares the mutual TLS
// configuration against the trust bundle
func (a *app) loadIdentity(ctx context.Context) error {
	if err := a.cfg.RequireIdentity(); err != nil {
		return err
	}
	provider, err := keystore.NewProvider(&a.cfg.Identity)
	if err != nil {
		return fmt.Errorf("initializing keystore: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return provider.Close() })
	a.identity = provider

	keys, err := provider.Identity(ctx)
	if err != nil {
		return err
	}
	a.keys = keys

	info, err := provider.Info(ctx)
	if err != nil {
		return err
	}
	if info.Expired(time.Now()) {
		a.logger.Warn("signing certificate is outside its validity period",
			"subject", info.CertificateSubject,
			"not_after", info.NotAfter,
		)
	}

	cert, err := security.TLSCertificate(keys)
	if err != nil {
		return fmt.Errorf("building client certificate: %w", err)
	}

	tlsCfg := transport.DefaultHTTPSConfig()
	if tlsCfg.MinTLSVersion, err = config.TLSVersion(a.cfg.Transport.MinTLSVersion); err != nil {
		return err
	}
	if tlsCfg.MaxTLSVersion, err = config.TLSVersion(a.cfg.Transport.MaxTLSVersion); err != nil {
		return err
	}
	tlsCfg.Certificates = []tls.Certificate{cert}
	tlsCfg.MaxRetries = a.cfg.Transport.MaxRetries
	tlsCfg.RetryDelay = a.cfg.Transport.RetryDelay
	// per transaction timeouts are applied to each request
	tlsCfg.Timeout = 0
	tlsCfg.Logger = a.logger

	if a.cfg.TrustBundle.File != "" {
		bundle := transport.NewCachedTrustBundle(transport.FileTrustBundle{Path: a.cfg.TrustBundle.File})
		if err := tlsCfg.LoadTrustBundle(ctx, bundle); err != nil {
			return err
		}
		tlsCfg.ClientCAs = tlsCfg.RootCAs
	}
	if a.cfg.Transport.OCSP.Enabled {
		ocsp := transport.DefaultOCSPConfig()
		ocsp.StrictMode = a.cfg.Transport.OCSP.Strict
		ocsp.Logger = a.logger
		tlsCfg.OCSP = transport.NewOCSPChecker(ocsp)
	}
	a.tls = tlsCfg
	return nil
}

// stores opens the document store and the raw response archive store
func (a *app) stores(ctx context.Context) (storage.ObjectStore, storage.ObjectStore, error) {
	st := a.cfg.Storage
	switch st.Type {
	case "mongodb":
		docs, err := mongodb.NewStore(ctx, &mongodb.Config{
			URI:            st.MongoDB.URI,
			Database:       st.MongoDB.Database,
			GridFSBucket:   st.MongoDB.GridFS.BucketName,
			ChunkSizeBytes: int32(st.MongoDB.GridFS.ChunkSizeBytes),
			PublicURL:      st.PublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, docs.Close)
		raw, err := docs.Bucket(ctx, a.cfg.Monitor.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return docs, raw, nil
	default:
		return storage.NewMemory(st.PublicURL), storage.NewMemory("memory://" + a.cfg.Monitor.Bucket), nil
	}
}

// client assembles the orchestrator with every configured collaborator
func (a *app) client(ctx context.Context) (*gateway.Client, error) {
	if err := a.loadIdentity(ctx); err != nil {
		return nil, err
	}
	documents, archive, err := a.stores(ctx)
	if err != nil {
		return nil, err
	}

	cfg := gateway.Config{
		Transport:         transport.NewHTTPSClient(a.tls),
		Keys:              a.keys,
		Store:             documents,
		Location:          a.location(),
		Policy:            a.cfg.Retry.Policy(),
		XCPD:              a.cfg.Transactions.XCPD.Gateway(),
		DQ:                a.cfg.Transactions.DQ.Gateway(),
		DR:                a.cfg.Transactions.DR.Gateway(),
		SHA1Targets:       a.cfg.Gateway.SHA1Targets,
		ReplyTo:           a.cfg.Gateway.ReplyTo,
		Issuer:            a.cfg.Gateway.Issuer,
		TimestampValidity: a.cfg.Gateway.TimestampValidity,
		MaxConcurrency:    a.cfg.Gateway.MaxConcurrency,
		Logger:            a.logger,
	}
	if a.cfg.Monitor.Enabled {
		cfg.Archiver = monitor.NewArchiver(archive, a.logger)
	}

	sc := a.cfg.Sink
	if sc.PatientDiscoveryURL != "" || sc.DocumentQueryURL != "" || sc.DocumentRetrievalURL != "" {
		poster := sink.NewHTTPSink(sink.NewSender(sc.Timeout, a.logger), sc.Timeout)
		cfg.Sink = sink.New(poster, sink.URLs{
			PatientDiscovery:  sc.PatientDiscoveryURL,
			DocumentQuery:     sc.DocumentQueryURL,
			DocumentRetrieval: sc.DocumentRetrievalURL,
		})
	}

	if a.cfg.Report.DatabaseURL != "" {
		store, err := a.reportStore(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Recorder = store
	}

	return gateway.NewClient(cfg)
}

func (a *app) location() string {
	if a.cfg.Storage.Type == "mongodb" {
		return a.cfg.Storage.MongoDB.GridFS.BucketName
	}
	return strings.TrimSuffix(a.cfg.Storage.PublicURL, "/")
}

func (a *app) reportStore(ctx context.Context) (*report.Store, error) {
	if a.cfg.Report.DatabaseURL == "" {
		return nil, fmt.Errorf("report.databaseUrl is required")
	}
	store, err := report.Open(ctx, a.cfg.Report.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
