// Package report stores processed gateway outcomes in Postgres and derives
// success-rate reports from them.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
)

// Table names one result table
type Table string

const (
	PatientDiscoveryTable  Table = "patient_discovery_result"
	DocumentQueryTable     Table = "document_query_result"
	DocumentRetrievalTable Table = "document_retrieval_result"
)

// Tables lists every result table
var Tables = []Table{PatientDiscoveryTable, DocumentQueryTable, DocumentRetrievalTable}

// Store persists outcomes. It implements gateway.Recorder.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the result tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, table := range Tables {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    id UUID PRIMARY KEY,
    request_id VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_request_id_idx ON %[1]s (request_id);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at)`, table)

		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// RecordPatientDiscovery stores one XCPD outcome
func (s *Store) RecordPatientDiscovery(ctx context.Context, resp *ihe.PatientDiscoveryResponse) error {
	return s.insert(ctx, PatientDiscoveryTable, resp.ID, resp)
}

// RecordDocumentQuery stores one DQ outcome
func (s *Store) RecordDocumentQuery(ctx context.Context, resp *ihe.DocumentQueryResponse) error {
	return s.insert(ctx, DocumentQueryTable, resp.ID, resp)
}

// RecordDocumentRetrieval stores one DR outcome
func (s *Store) RecordDocumentRetrieval(ctx context.Context, resp *ihe.DocumentRetrievalResponse) error {
	return s.insert(ctx, DocumentRetrievalTable, resp.ID, resp)
}

func (s *Store) insert(ctx context.Context, table Table, requestID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, request_id, data) VALUES ($1, $2, $3)`, table)
	if _, err := s.pool.Exec(ctx, query, uuid.NewString(), requestID, data); err != nil {
		return fmt.Errorf("insert %s row: %w", table, err)
	}
	return nil
}

// RequestIDsSince returns up to limit request ids recorded in table at or
// after since, newest first
func (s *Store) RequestIDsSince(ctx context.Context, table Table, since time.Time, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT ON (request_id) request_id, created_at
FROM %s
WHERE created_at >= $1
ORDER BY request_id, created_at DESC`, table)
	query = fmt.Sprintf(`SELECT request_id FROM (%s) latest ORDER BY created_at DESC LIMIT $2`, query)

	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s request ids: %w", table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan %s request ids: %w", table, err)
	}
	return ids, nil
}

// PatientDiscoveryResults returns every XCPD outcome of requestID
func (s *Store) PatientDiscoveryResults(ctx context.Context, requestID string) ([]*ihe.PatientDiscoveryResponse, error) {
	return results[ihe.PatientDiscoveryResponse](ctx, s.pool, PatientDiscoveryTable, requestID)
}

// DocumentQueryResults returns every DQ outcome of requestID
func (s *Store) DocumentQueryResults(ctx context.Context, requestID string) ([]*ihe.DocumentQueryResponse, error) {
	return results[ihe.DocumentQueryResponse](ctx, s.pool, DocumentQueryTable, requestID)
}

// DocumentRetrievalResults returns every DR outcome of requestID
func (s *Store) DocumentRetrievalResults(ctx context.Context, requestID string) ([]*ihe.DocumentRetrievalResponse, error) {
	return results[ihe.DocumentRetrievalResponse](ctx, s.pool, DocumentRetrievalTable, requestID)
}

func results[T any](ctx context.Context, pool *pgxpool.Pool, table Table, requestID string) ([]*T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE request_id = $1 ORDER BY created_at`, table)
	rows, err := pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	out := make([]*T, 0, len(raw))
	for _, data := range raw {
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, v)
	}
	return out, nil
}
