// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goihe implements the initiating side of the IHE cross-community
profiles XCPD and XCA, plus an inbound XCPD responder.

# Overview

go-ihe builds, signs and sends SOAP 1.2 requests to remote gateways of a
health information exchange over mutual TLS, and turns their replies into
FHIR-flavoured JSON outcomes. Every request carries a WS-Security header
with a SAML 2.0 assertion signed with RSA.

# Transactions Implemented

  - ITI-55 Cross Gateway Patient Discovery (XCPD)
  - ITI-38 Cross Gateway Query (XCA document query)
  - ITI-39 Cross Gateway Retrieve (XCA document retrieval, MTOM/XOP)

# Package Structure

The library is organized into the following packages:

	github.com/sirosfoundation/go-ihe/pkg/ihe       - Shared request, response and OperationOutcome types
	github.com/sirosfoundation/go-ihe/pkg/soap      - SOAP 1.2 envelope, faults and prefix-free parsing
	github.com/sirosfoundation/go-ihe/pkg/security  - SAML header, XML-DSig signing and verification, key handling
	github.com/sirosfoundation/go-ihe/pkg/transport - HTTPS transport with TLS 1.2/1.3, trust bundles and OCSP
	github.com/sirosfoundation/go-ihe/pkg/mtom      - MTOM/XOP multipart handling
	github.com/sirosfoundation/go-ihe/pkg/xcpd      - ITI-55 request builder, response processor and inbound responder
	github.com/sirosfoundation/go-ihe/pkg/xca       - ITI-38 and ITI-39 builders and processors
	github.com/sirosfoundation/go-ihe/pkg/gateway   - Orchestrator: fan-out, retries, archiving and result delivery

The ihegw command under cmd/ihegw wires these packages to a YAML
configuration, MongoDB GridFS document storage and a Postgres report store.

# Quick Start

To discover a patient at every gateway of a request:

	import (
	    "github.com/sirosfoundation/go-ihe/pkg/gateway"
	    "github.com/sirosfoundation/go-ihe/pkg/transport"
	)

	client, err := gateway.NewClient(gateway.Config{
	    Transport: transport.NewHTTPSClient(httpsConfig),
	    Keys:      keys,
	})
	results, err := client.DiscoverPatients(ctx, req)

Each result reports PatientMatch true, false for an explicit no-match, or
nil together with an OperationOutcome describing the failure.

# Security Features

  - RSA-SHA256 signatures over the WS-Security Timestamp and the SAML
    Assertion, with RSA-SHA1 for gateways configured to require it
  - Exclusive XML Canonicalization
  - Legacy encrypted PEM and PKCS#8 private keys
  - Mutual TLS against a PEM trust bundle, with optional OCSP checking

# References

  - IHE ITI Technical Framework: https://profiles.ihe.net/ITI/TF/
  - XCPD: https://profiles.ihe.net/ITI/TF/Volume2/ITI-55.html
  - XCA: https://profiles.ihe.net/ITI/TF/Volume2/ITI-38.html

# License

BSD-2-Clause License
*/
package goihe
