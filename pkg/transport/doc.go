// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport for IHE gateway traffic.

Outbound requests are POSTed to remote gateways over mutual TLS using the
caller's SAML certificate chain and private key. Server certificates are
verified against a CA trust bundle and, optionally, their OCSP responder.

# TLS Configuration

TLS 1.3 is preferred with fallback to TLS 1.2:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

For TLS 1.2, the following cipher suites are recommended:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# Trust Bundle

The CA bundle is loaded once and cached:

	bundle := transport.NewCachedTrustBundle(transport.FileTrustBundle{Path: "ca.pem"})
	if err := config.LoadTrustBundle(ctx, bundle); err != nil {
	    return err
	}

# Client Usage

	config.Certificates = []tls.Certificate{clientCert}
	config.OCSP = transport.NewOCSPChecker(nil)
	client := transport.NewHTTPSClient(config)

	resp, err := client.Post(ctx, &transport.Request{
	    URL:     "https://gateway.example.com/iti55",
	    Body:    signedEnvelope,
	    Timeout: 45 * time.Second,
	})

Network errors and 502, 503 and 504 replies are retried up to MaxRetries
times. Every other non-2xx reply is returned as *transport.Error.

# Server Usage

	server := transport.NewHTTPSServer(":8443", &transport.HTTPSConfig{
	    MinTLSVersion: transport.TLS12,
	    Certificates:  []tls.Certificate{serverCert},
	    ClientAuth:    tls.RequireAndVerifyClientCert,
	    ClientCAs:     clientCAPool,
	}, handler)

# References

  - IHE ITI TF-2 Appendix V (Web Services): https://profiles.ihe.net/ITI/TF/Volume2/ch-V.html
  - OCSP RFC 6960: https://datatracker.ietf.org/doc/html/rfc6960
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
*/
package transport
