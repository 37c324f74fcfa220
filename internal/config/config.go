// Package config handles configuration loading for the IHE gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows key passwords
// and database credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - gateway: reply-to address, SAML issuer, timestamp validity, SHA-1 destinations
//   - transactions: retry budget and timeout per transaction (xcpd, dq, dr)
//   - retry: remote error texts that are never retried
//   - identity: signing certificate, chain, key and key password
//   - trustBundle: PEM bundle of trusted gateway roots
//   - transport: TLS versions, transport retries, OCSP
//   - storage: document store (memory or MongoDB GridFS)
//   - monitor: raw response archive
//   - sink: result endpoints
//   - report: Postgres result store
//   - server: inbound XCPD responder
//   - logging: level and format
//
// # Example Configuration
//
//	gateway:
//	  replyTo: https://gateway.example.com/reply
//	  sha1Targets:
//	    - 2.16.840.1.113883.3.1259.10.1001
//
//	transactions:
//	  dr:
//	    maxAttempts: 5
//	    timeout: 15m
//
//	identity:
//	  certFile: /etc/ihe/cert.pem
//	  keyFile: /etc/ihe/key.pem
//	  keyPassword: ${IHE_KEY_PASSWORD}
//
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/gateway"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Retry        RetryConfig        `yaml:"retry"`
	Identity     IdentityConfig     `yaml:"identity"`
	TrustBundle  TrustBundleConfig  `yaml:"trustBundle"`
	Transport    TransportConfig    `yaml:"transport"`
	Storage      StorageConfig      `yaml:"storage"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Sink         SinkConfig         `yaml:"sink"`
	Report       ReportConfig       `yaml:"report"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// GatewayConfig holds settings shared by every outbound transaction
type GatewayConfig struct {
	ReplyTo           string        `yaml:"replyTo"`
	Issuer            string        `yaml:"issuer"`
	TimestampValidity time.Duration `yaml:"timestampValidity"`
	// SHA1Targets lists gateway URLs or OIDs that only verify SHA-1
	SHA1Targets    []string `yaml:"sha1Targets"`
	MaxConcurrency int      `yaml:"maxConcurrency"`
}

// TransactionsConfig holds per transaction settings
type TransactionsConfig struct {
	XCPD TransactionConfig `yaml:"xcpd"`
	DQ   TransactionConfig `yaml:"dq"`
	DR   TransactionConfig `yaml:"dr"`
}

// TransactionConfig holds the retry budget of one transaction type
type TransactionConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	Jitter       time.Duration `yaml:"jitter"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Gateway converts t to the orchestrator's form
func (t TransactionConfig) Gateway() gateway.TransactionConfig {
	return gateway.TransactionConfig{
		Retry: gateway.RetryConfig{
			MaxAttempts:  t.MaxAttempts,
			InitialDelay: t.InitialDelay,
			Jitter:       t.Jitter,
		},
		Timeout: t.Timeout,
	}
}

// RetryConfig holds outcome classification settings
type RetryConfig struct {
	NonRetryableErrors []string `yaml:"nonRetryableErrors"`
}

// Policy returns the configured retry policy
func (r RetryConfig) Policy() ihe.RetryPolicy {
	return ihe.RetryPolicy{NonRetryable: r.NonRetryableErrors}
}

// IdentityConfig locates the signing and client TLS identity
type IdentityConfig struct {
	CertFile    string `yaml:"certFile"`
	ChainFile   string `yaml:"chainFile"`
	KeyFile     string `yaml:"keyFile"`
	KeyPassword string `yaml:"keyPassword"`
}

// TrustBundleConfig locates the trusted gateway roots
type TrustBundleConfig struct {
	File string `yaml:"file"`
}

// TransportConfig holds outbound HTTPS settings
type TransportConfig struct {
	MinTLSVersion string        `yaml:"minTlsVersion"`
	MaxTLSVersion string        `yaml:"maxTlsVersion"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	OCSP          struct {
		Enabled bool `yaml:"enabled"`
		Strict  bool `yaml:"strict"`
	} `yaml:"ocsp"`
}

// StorageConfig holds document store settings
type StorageConfig struct {
	// Type is "memory" or "mongodb"
	Type string `yaml:"type"`
	// PublicURL prefixes object keys in reported document URLs
	PublicURL string        `yaml:"publicUrl"`
	MongoDB   MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int    `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// MonitorConfig controls archiving of raw gateway responses
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

// SinkConfig holds the result endpoints. Empty URLs disable posting.
type SinkConfig struct {
	PatientDiscoveryURL  string        `yaml:"patientDiscoveryUrl"`
	DocumentQueryURL     string        `yaml:"documentQueryUrl"`
	DocumentRetrievalURL string        `yaml:"documentRetrievalUrl"`
	Timeout              time.Duration `yaml:"timeout"`
}

// ReportConfig holds the report database settings
type ReportConfig struct {
	DatabaseURL string `yaml:"databaseUrl"`
}

// ServerConfig holds inbound responder settings
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	HomeCommunityID string `yaml:"homeCommunityId"`
	// RequireClientCert enables mutual TLS against the trust bundle
	RequireClientCert bool `yaml:"requireClientCert"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies
// defaults and validation
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.TimestampValidity == 0 {
		c.Gateway.TimestampValidity = 5 * time.Minute
	}
	applyTransactionDefaults(&c.Transactions.XCPD, 45*time.Second)
	applyTransactionDefaults(&c.Transactions.DQ, 5*time.Minute)
	applyTransactionDefaults(&c.Transactions.DR, 10*time.Minute)
	if c.Retry.NonRetryableErrors == nil {
		c.Retry.NonRetryableErrors = append([]string(nil), ihe.DefaultNonRetryableErrors...)
	}
	if c.Transport.MinTLSVersion == "" {
		c.Transport.MinTLSVersion = "1.2"
	}
	if c.Transport.MaxTLSVersion == "" {
		c.Transport.MaxTLSVersion = "1.3"
	}
	if c.Transport.MaxRetries == 0 {
		c.Transport.MaxRetries = 2
	}
	if c.Transport.RetryDelay == 0 {
		c.Transport.RetryDelay = time.Second
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "ihe"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "documents"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Monitor.Bucket == "" {
		c.Monitor.Bucket = "ihe-raw-responses"
	}
	if c.Sink.Timeout == 0 {
		c.Sink.Timeout = 30 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func applyTransactionDefaults(t *TransactionConfig, timeout time.Duration) {
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 3
	}
	if t.InitialDelay == 0 {
		t.InitialDelay = 3 * time.Second
	}
	if t.Jitter == 0 {
		t.Jitter = time.Second
	}
	if t.Timeout == 0 {
		t.Timeout = timeout
	}
}

func (c *Config) validate() error {
	for name, t := range map[string]TransactionConfig{
		"xcpd": c.Transactions.XCPD,
		"dq":   c.Transactions.DQ,
		"dr":   c.Transactions.DR,
	} {
		if t.MaxAttempts < 0 {
			return fmt.Errorf("transactions.%s.maxAttempts must not be negative", name)
		}
		if t.InitialDelay < 0 || t.Jitter < 0 || t.Timeout < 0 {
			return fmt.Errorf("transactions.%s durations must not be negative", name)
		}
	}

	if _, err := TLSVersion(c.Transport.MinTLSVersion); err != nil {
		return fmt.Errorf("transport.minTlsVersion: %w", err)
	}
	if _, err := TLSVersion(c.Transport.MaxTLSVersion); err != nil {
		return fmt.Errorf("transport.maxTlsVersion: %w", err)
	}

	switch c.Storage.Type {
	case "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when type is 'mongodb'")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory' or 'mongodb', got '%s'", c.Storage.Type)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}

// RequireIdentity reports an error when no signing identity is configured
func (c *Config) RequireIdentity() error {
	if c.Identity.CertFile == "" || c.Identity.KeyFile == "" {
		return fmt.Errorf("identity.certFile and identity.keyFile are required")
	}
	return nil
}

// TLSVersion maps "1.2" and "1.3" to their crypto/tls constants
func TLSVersion(v string) (uint16, error) {
	switch v {
	case "1.2":
		return transport.TLS12, nil
	case "1.3":
		return transport.TLS13, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", v)
}
