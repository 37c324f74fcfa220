// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ihe defines the data model shared by the IHE cross-community
transactions: Patient Discovery (XCPD, ITI-55), Document Query (XCA,
ITI-38) and Document Retrieval (XCA, ITI-39).

# Requests

Each transaction has an outbound request type carrying the caller's
identifiers, the SAML attributes asserted on the wire and the target
gateway(s):

	req := &ihe.DocumentQueryRequest{
	    ID:        uuid.NewString(),
	    CxID:      cxID,
	    PatientID: patientID,
	    Gateway:   ihe.XCAGateway{HomeCommunityID: "2.16.840.1.113883.3.9621", URL: url},
	    ExternalGatewayPatient: ihe.ExternalGatewayPatient{ID: pid, System: aa},
	}
	if err := req.Validate(); err != nil {
	    // errors.Is(err, ihe.ErrInvalidRequest)
	}

# Responses

Every response carries either a success payload or an OperationOutcome,
never both. The OperationOutcome shape is shared by all three
transactions so callers have a single error representation:

	http-error           transport failure before any response existed
	schema-error         response was not recognizable XML
	no-documents-found   informational, zero results
	not-found            informational, explicit XCPD no-match
	<registry code>      ebXML RegistryError reported by the gateway
	<fault code>         SOAP Fault reported by the gateway (DR)

# Retry Classification

RetryPolicy decides whether an outcome is worth another attempt. Only
error-severity issues that are neither transport nor schema errors are
retried, and issues whose text contains a known non-retryable phrase are
never retried.
*/
package ihe
