package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/xcpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCert(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "initiator.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func discoveryRequest() *ihe.PatientDiscoveryRequest {
	return &ihe.PatientDiscoveryRequest{
		ID:        "7a3c0e52-9f4d-4b6e-8a17-3d2f1c0b9e84",
		CxID:      "c1e2d3f4-a5b6-4c7d-8e9f-0a1b2c3d4e5f",
		PatientID: "f0e1d2c3-b4a5-4968-8776-5a4b3c2d1e0f",
		Timestamp: "2024-04-04T19:11:55.879Z",
		SamlAttributes: ihe.SamlAttributes{
			SubjectID:       "Example Clinic",
			SubjectRole:     ihe.Code{Code: "106331006", Display: "Administrative AND/OR managerial worker"},
			Organization:    "Example Clinic",
			OrganizationID:  "2.16.840.1.113883.3.9621.5.100",
			HomeCommunityID: "2.16.840.1.113883.3.9621.5.100",
			PurposeOfUse:    "TREATMENT",
		},
		PatientResource: ihe.Patient{
			Name:      []ihe.Name{{Given: []string{"JANE"}, Family: "DOE"}},
			Gender:    "female",
			BirthDate: "1975-03-14",
		},
		Gateways: []ihe.XCPDGateway{{OID: "2.16.840.1.113883.3.9621", URL: "https://responder.example.com/xcpd"}},
	}
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/xcpd", strings.NewReader(body))
	req.Header.Set("Content-Type", contentTypeSOAP)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func requestXML(t *testing.T) string {
	t.Helper()
	req := discoveryRequest()
	xml, err := xcpd.BuildRequest(req, req.Gateways[0], xcpd.Options{PublicCert: testCert(t)})
	require.NoError(t, err)
	return xml
}

// answer runs the response back through the outbound processor
func answer(body string) *ihe.PatientDiscoveryResponse {
	req := discoveryRequest()
	return xcpd.ProcessResponse(&xcpd.Result{Gateway: req.Gateways[0], Request: req, Body: []byte(body)})
}

func TestServer_NoMatchByDefault(t *testing.T) {
	s := New(Config{HomeCommunityID: "2.16.840.1.113883.3.9621"})

	rec := post(t, s, requestXML(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeSOAP, rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "registrationEvent")

	got := answer(rec.Body.String())
	require.NotNil(t, got.PatientMatch)
	assert.False(t, *got.PatientMatch)
	assert.True(t, got.OperationOutcome.HasCode(ihe.NotFoundCode))
}

func TestServer_Match(t *testing.T) {
	var seen *xcpd.InboundRequest
	matcher := MatcherFunc(func(_ context.Context, req *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error) {
		seen = req
		patient := req.PatientResource
		patient.Identifier = []ihe.Identifier{{System: "2.16.840.1.113883.3.9621", Value: "PT-555"}}
		return &ihe.PatientDiscoveryResponse{
			PatientMatch:           ihe.Bool(true),
			PatientResource:        &patient,
			ExternalGatewayPatient: &ihe.ExternalGatewayPatient{ID: "PT-555", System: "2.16.840.1.113883.3.9621"},
		}, nil
	})
	s := New(Config{HomeCommunityID: "2.16.840.1.113883.3.9621", Matcher: matcher})

	rec := post(t, s, requestXML(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NotHealthDataLocator")

	require.NotNil(t, seen)
	assert.Equal(t, "7a3c0e52-9f4d-4b6e-8a17-3d2f1c0b9e84", seen.ID)
	assert.Equal(t, "DOE", seen.PatientResource.Name[0].Family)
	assert.Equal(t, "Example Clinic", seen.SamlAttributes.Organization)

	got := answer(rec.Body.String())
	require.NotNil(t, got.PatientMatch)
	assert.True(t, *got.PatientMatch)
	require.NotNil(t, got.ExternalGatewayPatient)
	assert.Equal(t, "PT-555", got.ExternalGatewayPatient.ID)
}

func TestServer_MatcherError(t *testing.T) {
	matcher := MatcherFunc(func(context.Context, *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error) {
		return nil, errors.New("index unavailable")
	})
	s := New(Config{Matcher: matcher})

	rec := post(t, s, requestXML(t))
	require.Equal(t, http.StatusOK, rec.Code)

	got := answer(rec.Body.String())
	assert.Nil(t, got.PatientMatch)
	require.NotNil(t, got.OperationOutcome)
}

func TestServer_MatchWithoutPatientIsFault(t *testing.T) {
	matcher := MatcherFunc(func(context.Context, *xcpd.InboundRequest) (*ihe.PatientDiscoveryResponse, error) {
		return &ihe.PatientDiscoveryResponse{PatientMatch: ihe.Bool(true)}, nil
	})
	s := New(Config{Matcher: matcher})

	rec := post(t, s, requestXML(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "soap:Receiver")
}

func TestServer_InvalidRequestIsFault(t *testing.T) {
	s := New(Config{})

	for _, body := range []string{"not xml", `<Envelope><Body><Other/></Body></Envelope>`} {
		rec := post(t, s, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		out := rec.Body.String()
		assert.Contains(t, out, "soap:Fault")
		assert.Contains(t, out, "soap:Sender")
	}
}

func TestServer_BodyLimit(t *testing.T) {
	s := New(Config{MaxBodyBytes: 16})
	rec := post(t, s, requestXML(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/xcpd", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, New(Config{}).Shutdown(context.Background()))
}
