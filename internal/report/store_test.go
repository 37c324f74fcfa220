package report

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirosfoundation/go-ihe/pkg/gateway"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ gateway.Recorder = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore_RecordAndReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	requestID := uuid.NewString()

	require.NoError(t, s.RecordPatientDiscovery(ctx, &ihe.PatientDiscoveryResponse{
		ResponseMeta: ihe.ResponseMeta{ID: requestID, PatientID: "pt-1"},
		Gateway:      ihe.XCPDGateway{OID: "1.1", URL: "https://a.example.com"},
		PatientMatch: ihe.Bool(true),
	}))
	require.NoError(t, s.RecordPatientDiscovery(ctx, &ihe.PatientDiscoveryResponse{
		ResponseMeta: ihe.ResponseMeta{ID: requestID, PatientID: "pt-1", OperationOutcome: ihe.HTTPError(requestID, "timeout")},
		Gateway:      ihe.XCPDGateway{OID: "1.2", URL: "https://b.example.com"},
	}))

	ids, err := s.RequestIDsSince(ctx, PatientDiscoveryTable, time.Now().Add(-time.Minute), 100)
	require.NoError(t, err)
	assert.Contains(t, ids, requestID)

	results, err := s.PatientDiscoveryResults(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1.1", results[0].Gateway.OID)
	require.NotNil(t, results[0].PatientMatch)
	assert.True(t, *results[0].PatientMatch)

	r := PatientDiscoveryReport(requestID, results)
	assert.Equal(t, 50.0, r.SuccessPercentage)

	dq, err := s.DocumentQueryResults(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, dq)
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
