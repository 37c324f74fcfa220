package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/security"
	"github.com/sirosfoundation/go-ihe/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	testKeys ihe.SamlCertsAndKeys
)

func samlKeys(t *testing.T) ihe.SamlCertsAndKeys {
	t.Helper()
	keysOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(7),
			Subject:      pkix.Name{CommonName: "gateway.example.com"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		require.NoError(t, err)
		testKeys = ihe.SamlCertsAndKeys{
			PublicCert: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
			PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		}
	})
	return testKeys
}

type fakeSender struct {
	mu       sync.Mutex
	requests []*transport.Request
	respond  func(req *transport.Request) (*transport.Response, error)
}

func (f *fakeSender) Post(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSender) bodyFor(url string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL == url {
			return string(r.Body)
		}
	}
	return ""
}

func reply(body string) func(*transport.Request) (*transport.Response, error) {
	return func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, ContentType: transport.ContentTypeSOAP, Body: []byte(body)}, nil
	}
}

type fakeSink struct {
	pd, dq, dr atomic.Int32
	err        error
}

func (s *fakeSink) PatientDiscovery(context.Context, *ihe.PatientDiscoveryResponse) error {
	s.pd.Add(1)
	return s.err
}

func (s *fakeSink) DocumentQuery(context.Context, *ihe.DocumentQueryResponse) error {
	s.dq.Add(1)
	return s.err
}

func (s *fakeSink) DocumentRetrieval(context.Context, *ihe.DocumentRetrievalResponse) error {
	s.dr.Add(1)
	return s.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []string
}

func (r *fakeRecorder) add(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, kind)
	return nil
}

func (r *fakeRecorder) RecordPatientDiscovery(context.Context, *ihe.PatientDiscoveryResponse) error {
	return r.add(TransactionXCPD)
}

func (r *fakeRecorder) RecordDocumentQuery(context.Context, *ihe.DocumentQueryResponse) error {
	return r.add(TransactionDQ)
}

func (r *fakeRecorder) RecordDocumentRetrieval(context.Context, *ihe.DocumentRetrievalResponse) error {
	panic("recorder unavailable")
}

type fakeArchiver struct {
	mu        sync.Mutex
	exchanges []Exchange
}

func (a *fakeArchiver) Archive(_ context.Context, ex Exchange, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges = append(a.exchanges, ex)
	return nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) URL(key string) string {
	return "https://documents.example.com/" + key
}

var noRetryDelay = TransactionConfig{Retry: RetryConfig{MaxAttempts: 2}, Timeout: time.Second}

func newTestClient(t *testing.T, sender transport.Sender, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Transport: sender,
		Keys:      samlKeys(t),
		XCPD:      noRetryDelay,
		DQ:        noRetryDelay,
		DR:        noRetryDelay,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func samlAttributes() ihe.SamlAttributes {
	return ihe.SamlAttributes{
		SubjectID:       "America Inc",
		SubjectRole:     ihe.Code{Code: "106331006", Display: "Administrative AND/OR managerial worker"},
		Organization:    "White House Medical Inc",
		OrganizationID:  "2.16.840.1.113883.3.9621.5.213",
		HomeCommunityID: "2.16.840.1.113883.3.9621.5.213",
		PurposeOfUse:    "TREATMENT",
	}
}

func discoveryRequest() *ihe.PatientDiscoveryRequest {
	return &ihe.PatientDiscoveryRequest{
		ID:             "5d9e2c7e-7b4f-4f0e-9c53-1f6b5b2b8a11",
		CxID:           "b2d7a0a4-0d8a-4bb3-a0b1-6c1f5a0e1f77",
		PatientID:      "0b1f5c3e-2d4a-4c1b-8e7f-9a6d5c4b3a21",
		Timestamp:      "2024-04-04T19:11:55.879Z",
		SamlAttributes: samlAttributes(),
		PatientResource: ihe.Patient{
			Name:      []ihe.Name{{Given: []string{"NWHINONE"}, Family: "NWHINZZZTESTPATIENT"}},
			Gender:    "male",
			BirthDate: "1981-01-01",
		},
		Gateways: []ihe.XCPDGateway{
			{ID: "gw-1", OID: "2.16.840.1.113883.3.787.0.0", URL: "https://gw1.example.com/iti55"},
			{ID: "gw-2", OID: "2.16.840.1.113883.3.1259.10.1001", URL: "https://gw2.example.com/iti55"},
		},
	}
}

const matchResponse = `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<PRPA_IN201306UV02 xmlns="urn:hl7-org:v3">
  <acknowledgement><typeCode code="AA"/></acknowledgement>
  <controlActProcess>
    <subject><registrationEvent><subject1><patient>
      <id extension="EV12ZGR7J6K4MCX" root="2.16.840.1.113883.3.787.0.0"/>
      <patientPerson><name><given>NWHINONE</given><family>NWHINZZZTESTPATIENT</family></name></patientPerson>
    </patient></subject1></registrationEvent></subject>
    <queryAck><queryResponseCode code="OK"/></queryAck>
  </controlActProcess>
</PRPA_IN201306UV02></soap:Body></soap:Envelope>`

func applicationError(text string) string {
	return fmt.Sprintf(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<PRPA_IN201306UV02 xmlns="urn:hl7-org:v3">
  <acknowledgement>
    <typeCode code="AE"/>
    <acknowledgementDetail><code code="InternalError" codeSystem="1.3.6.1.4.1.19376.1.2.27.3"/><text>%s</text></acknowledgementDetail>
  </acknowledgement>
  <controlActProcess><queryAck><queryResponseCode code="AE"/></queryAck></controlActProcess>
</PRPA_IN201306UV02></soap:Body></soap:Envelope>`, text)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second}
	assert.Equal(t, 2*time.Second, cfg.Backoff(0))
	assert.Equal(t, 4*time.Second, cfg.Backoff(1))
	assert.Equal(t, 8*time.Second, cfg.Backoff(2))

	cfg.Jitter = time.Second
	for i := 0; i < 50; i++ {
		d := cfg.Backoff(0)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.Less(t, d, 2500*time.Millisecond)
	}

	// jitter never makes the wait negative
	cfg = RetryConfig{Jitter: 10 * time.Second}
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, cfg.Backoff(0), time.Duration(0))
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxAttempts: 3}

	t.Run("retry budget", func(t *testing.T) {
		var attempts []int
		got, err := Execute(ctx, cfg, func(_ context.Context, attempt int) (int, error) {
			attempts = append(attempts, attempt)
			return attempt, nil
		}, func(int) bool { return true })
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, attempts)
		assert.Equal(t, 3, got)
	})

	t.Run("stops when not retryable", func(t *testing.T) {
		calls := 0
		_, err := Execute(ctx, cfg, func(context.Context, int) (string, error) {
			calls++
			return "done", nil
		}, func(string) bool { return false })
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("error aborts", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		_, err := Execute(ctx, cfg, func(context.Context, int) (string, error) {
			calls++
			return "", boom
		}, func(string) bool { return true })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		_, err := Execute(cancelled, RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, func(context.Context, int) (string, error) {
			calls++
			return "", nil
		}, func(string) bool { return true })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{Keys: samlKeys(t)})
	assert.ErrorIs(t, err, ErrNoTransport)

	_, err = NewClient(Config{Transport: &fakeSender{}})
	assert.ErrorIs(t, err, ErrNoKeys)

	c, err := NewClient(Config{Transport: &fakeSender{}, Keys: samlKeys(t)})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.cfg.XCPD.Timeout)
	assert.Equal(t, 5*time.Minute, c.cfg.DQ.Timeout)
	assert.Equal(t, 10*time.Minute, c.cfg.DR.Timeout)
	assert.Equal(t, 3, c.cfg.DR.Retry.MaxAttempts)
	assert.Equal(t, ihe.DefaultNonRetryableErrors, c.cfg.Policy.NonRetryable)
}

func TestDiscoverPatient_RetriesApplicationErrors(t *testing.T) {
	sender := &fakeSender{respond: reply(applicationError("Responding gateway busy"))}
	c := newTestClient(t, sender, nil)
	req := discoveryRequest()

	resp, err := c.DiscoverPatient(context.Background(), req, req.Gateways[0])
	require.NoError(t, err)
	assert.Nil(t, resp.PatientMatch)
	assert.True(t, resp.OperationOutcome.HasCode("InternalError"))
	// MaxAttempts retryable calls plus the final one
	assert.Equal(t, 3, sender.calls())
}

func TestDiscoverPatient_NoRetry(t *testing.T) {
	tests := []struct {
		name    string
		respond func(*transport.Request) (*transport.Response, error)
		code    string
	}{
		{"known non-retryable", reply(applicationError("No active consent for patient id 1234")), "InternalError"},
		{"transport error", func(*transport.Request) (*transport.Response, error) {
			return nil, &transport.Error{StatusCode: 500, Code: transport.CodeStatus}
		}, ihe.HTTPErrorCode},
		{"unparseable body", reply("not xml"), ihe.SchemaErrorCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{respond: tt.respond}
			c := newTestClient(t, sender, nil)
			req := discoveryRequest()

			resp, err := c.DiscoverPatient(context.Background(), req, req.Gateways[0])
			require.NoError(t, err)
			assert.True(t, resp.OperationOutcome.HasCode(tt.code))
			assert.Equal(t, 1, sender.calls())
		})
	}
}

func TestDiscoverPatient_Headers(t *testing.T) {
	sender := &fakeSender{respond: reply(matchResponse)}
	c := newTestClient(t, sender, nil)
	req := discoveryRequest()

	_, err := c.DiscoverPatient(context.Background(), req, req.Gateways[0])
	require.NoError(t, err)
	require.Equal(t, 1, sender.calls())
	sent := sender.requests[0]
	assert.Equal(t, transport.ContentTypeSOAP, sent.ContentType)
	assert.Equal(t, transport.AcceptSOAP, sent.Accept)
	assert.Equal(t, time.Second, sent.Timeout)
	assert.True(t, security.Verify(string(sent.Body), samlKeys(t).PublicCert))
}

func TestDiscoverPatient_InvalidRequest(t *testing.T) {
	sender := &fakeSender{respond: reply(matchResponse)}
	c := newTestClient(t, sender, nil)
	req := discoveryRequest()
	req.PatientID = ""

	_, err := c.DiscoverPatient(context.Background(), req, req.Gateways[0])
	assert.ErrorIs(t, err, ihe.ErrInvalidRequest)
	assert.Equal(t, 0, sender.calls())
}

func TestDiscoverPatients_SinkFailureDoesNotAbort(t *testing.T) {
	sender := &fakeSender{respond: reply(matchResponse)}
	sink := &fakeSink{err: errors.New("sink unavailable")}
	recorder := &fakeRecorder{}
	archiver := &fakeArchiver{}
	c := newTestClient(t, sender, func(cfg *Config) {
		cfg.Sink = sink
		cfg.Recorder = recorder
		cfg.Archiver = archiver
		cfg.MaxConcurrency = 1
	})
	req := discoveryRequest()

	results, err := c.DiscoverPatients(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, resp := range results {
		assert.Equal(t, req.Gateways[i].OID, resp.Gateway.OID)
		require.NotNil(t, resp.PatientMatch)
		assert.True(t, *resp.PatientMatch)
		assert.Equal(t, "EV12ZGR7J6K4MCX", resp.ExternalGatewayPatient.ID)
	}
	assert.EqualValues(t, 2, sink.pd.Load())
	assert.Len(t, recorder.records, 2)
	require.Len(t, archiver.exchanges, 2)
	assert.Equal(t, TransactionXCPD, archiver.exchanges[0].Transaction)
	assert.Equal(t, req.CxID, archiver.exchanges[0].CxID)
}

func TestDiscoverPatients_NoMatchIsNotSunk(t *testing.T) {
	noMatch := strings.Replace(matchResponse, `code="OK"`, `code="NF"`, 1)
	sender := &fakeSender{respond: reply(noMatch)}
	sink := &fakeSink{}
	c := newTestClient(t, sender, func(cfg *Config) { cfg.Sink = sink })

	results, err := c.DiscoverPatients(context.Background(), discoveryRequest())
	require.NoError(t, err)
	for _, resp := range results {
		require.NotNil(t, resp.PatientMatch)
		assert.False(t, *resp.PatientMatch)
	}
	assert.EqualValues(t, 0, sink.pd.Load())
}

func TestDiscoverPatients_SHA1Targets(t *testing.T) {
	sender := &fakeSender{respond: reply(matchResponse)}
	req := discoveryRequest()
	c := newTestClient(t, sender, func(cfg *Config) {
		cfg.SHA1Targets = []string{req.Gateways[1].OID}
	})

	_, err := c.DiscoverPatients(context.Background(), req)
	require.NoError(t, err)

	sha256Body := sender.bodyFor(req.Gateways[0].URL)
	sha1Body := sender.bodyFor(req.Gateways[1].URL)
	assert.Contains(t, sha256Body, security.AlgRSASHA256)
	assert.NotContains(t, sha256Body, security.AlgRSASHA1)
	assert.Contains(t, sha1Body, security.AlgRSASHA1)
	assert.Contains(t, sha1Body, security.AlgDigestSHA1)
	assert.True(t, security.Verify(sha1Body, samlKeys(t).PublicCert))
}

func queryRequest() *ihe.DocumentQueryRequest {
	return &ihe.DocumentQueryRequest{
		ID:        "0e0b5c6a-1e1f-4ad4-9f36-4a0e8b1b5d11",
		CxID:      "a3f1c3b5-62a4-4c6e-8d1c-54b3d1f0c2aa",
		PatientID: "2d5c9a4e-7b3f-4f1e-9c8d-6a5b4c3d2e1f",
		Timestamp: "2023-12-01T08:44:00Z",
		Gateway: ihe.XCAGateway{
			HomeCommunityID: "2.16.840.1.113883.3.9621",
			URL:             "https://dq.example.com/iti38",
		},
		ExternalGatewayPatient: ihe.ExternalGatewayPatient{ID: "EV12ZGR7J6K4MCX", System: "2.16.840.1.113883.3.9621"},
		SamlAttributes:         samlAttributes(),
	}
}

const queryResponse = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
<query:AdhocQueryResponse xmlns:query="urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0" xmlns:rim="urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0" status="urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Success">
<rim:RegistryObjectList>
  <rim:ExtrinsicObject home="urn:oid:2.16.840.1.113883.3.9621" id="urn:uuid:1" mimeType="text/xml">
    <rim:ExternalIdentifier identificationScheme="urn:uuid:2e82c1f6-a085-4c72-9da3-8640a32e42ab" value="1.2.3.4.5"/>
  </rim:ExtrinsicObject>
</rim:RegistryObjectList>
</query:AdhocQueryResponse></s:Body></s:Envelope>`

func TestQueryAll(t *testing.T) {
	sender := &fakeSender{respond: reply(queryResponse)}
	sink := &fakeSink{}
	recorder := &fakeRecorder{}
	c := newTestClient(t, sender, func(cfg *Config) {
		cfg.Sink = sink
		cfg.Recorder = recorder
	})

	valid := queryRequest()
	invalid := queryRequest()
	invalid.ID = "invalid-date"
	invalid.ServiceDate = &ihe.DateRange{DateFrom: "not a date"}

	results := c.QueryAll(context.Background(), []*ihe.DocumentQueryRequest{invalid, valid})
	require.Len(t, results, 2)

	assert.Equal(t, "invalid-date", results[0].ID)
	assert.True(t, results[0].OperationOutcome.HasCode(ihe.SchemaErrorCode))
	assert.Nil(t, results[0].DocumentReference)

	assert.Nil(t, results[1].OperationOutcome)
	require.Len(t, results[1].DocumentReference, 1)
	assert.Equal(t, "1.2.3.4.5", results[1].DocumentReference[0].DocUniqueID)
	assert.Equal(t, "EV12ZGR7J6K4MCX", results[1].ExternalGatewayPatient.ID)

	// both outcomes reach the sink, only the processed one was sent
	assert.EqualValues(t, 2, sink.dq.Load())
	assert.Len(t, recorder.records, 2)
	assert.Equal(t, 1, sender.calls())
}

func retrievalRequest() *ihe.DocumentRetrievalRequest {
	return &ihe.DocumentRetrievalRequest{
		ID:             "c3734e97-69ba-48e4-a102-03a5e1219fa4",
		CxID:           "aeb4767b-ea11-4bbc-ba61-2274b5c9e4e9",
		PatientID:      "7f518b03-2ef0-4785-9f0c-dd295458df06",
		Timestamp:      "2023-12-01T08:44:00Z",
		RequestChunkID: "chunk-1",
		Gateway: ihe.XCAGateway{
			HomeCommunityID: "2.16.840.1.113883.3.8391",
			URL:             "https://dr.example.com/iti39",
		},
		SamlAttributes: samlAttributes(),
		DocumentReference: []ihe.DocumentReference{{
			DocUniqueID:        "123456789",
			CorrelationID:      "8c2a9f4e-1111-4d7b-9a51-000000000001",
			HomeCommunityID:    "2.16.840.1.113883.3.8391",
			RepositoryUniqueID: "2.16.840.1.113883.3.8391.1000.1",
		}},
	}
}

func retrieveResponse(docUniqueID string) string {
	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test document"))
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<xdsb:RetrieveDocumentSetResponse xmlns:xdsb="urn:ihe:iti:xds-b:2007" xmlns:rs="urn:oasis:names:tc:ebxml-regrep:xsd:rs:3.0">
<rs:RegistryResponse status="urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Success"/>
<xdsb:DocumentResponse>
  <xdsb:HomeCommunityId>urn:oid:2.16.840.1.113883.3.8391</xdsb:HomeCommunityId>
  <xdsb:RepositoryUniqueId>2.16.840.1.113883.3.8391.1000.1</xdsb:RepositoryUniqueId>
  <xdsb:DocumentUniqueId>` + docUniqueID + `</xdsb:DocumentUniqueId>
  <xdsb:Document>` + content + `</xdsb:Document>
</xdsb:DocumentResponse>
</xdsb:RetrieveDocumentSetResponse></soap:Body></soap:Envelope>`
}

func TestRetrieveDocuments(t *testing.T) {
	sender := &fakeSender{respond: reply(retrieveResponse("123456789"))}
	store := &memoryStore{objects: map[string][]byte{}}
	archiver := &fakeArchiver{}
	c := newTestClient(t, sender, func(cfg *Config) {
		cfg.Store = store
		cfg.Location = "medical-documents"
		cfg.Archiver = archiver
		cfg.Recorder = &fakeRecorder{}
	})
	req := retrievalRequest()

	resp, err := c.RetrieveDocuments(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.OperationOutcome)
	require.Len(t, resp.DocumentReference, 1)
	doc := resp.DocumentReference[0]
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "medical-documents", doc.FileLocation)
	assert.True(t, doc.IsNew)
	assert.Len(t, store.objects, 1)

	sent := sender.requests[0]
	assert.True(t, strings.HasPrefix(sent.ContentType, "multipart/related"))
	assert.Contains(t, string(sent.Body), "RetrieveDocumentSetRequest")

	require.Len(t, archiver.exchanges, 1)
	assert.Equal(t, "chunk-1", archiver.exchanges[0].SubRequestID)
}

func TestRetrieveDocuments_RequiresStore(t *testing.T) {
	c := newTestClient(t, &fakeSender{respond: reply(retrieveResponse("123456789"))}, nil)
	_, err := c.RetrieveDocuments(context.Background(), retrievalRequest())
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestRetrieveAll_UnresolvedDocument(t *testing.T) {
	sender := &fakeSender{respond: reply(retrieveResponse("unknown-document"))}
	store := &memoryStore{objects: map[string][]byte{}}
	sink := &fakeSink{}
	c := newTestClient(t, sender, func(cfg *Config) {
		cfg.Store = store
		cfg.Sink = sink
	})

	results := c.RetrieveAll(context.Background(), []*ihe.DocumentRetrievalRequest{retrievalRequest()})
	require.Len(t, results, 1)
	assert.True(t, results[0].OperationOutcome.HasCode(ihe.SchemaErrorCode))
	assert.Equal(t, "chunk-1", results[0].RequestChunkID)
	assert.Empty(t, store.objects)
	assert.EqualValues(t, 1, sink.dr.Load())
	// fatal errors are not retried
	assert.Equal(t, 1, sender.calls())
}
