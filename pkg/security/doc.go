// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the WS-Security header used by the IHE
cross-community transactions: a wsu:Timestamp and a holder-of-key SAML 2.0
assertion, both signed with XML Signature.

# Security Header

BuildSecurityHeader produces the unsigned wsse:Security element:

	header, err := security.BuildSecurityHeader(security.HeaderParams{
	    PublicCert: keys.PublicCert,
	    Attributes: req.SamlAttributes,
	    ToURL:      gw.URL,
	    GatewayOID: gw.OID,
	})

The assertion carries the XSPA subject attributes, the NHIN home
community id, the HL7 role and purpose of use, and the signer's RSA
public key in the subject confirmation.

# Signing

SignFull applies two signatures and verifies the result:

	signed, err := security.SignFull(envelopeXML, keys, crypto.SHA256)
	if errors.Is(err, security.ErrSelfVerification) {
	    // never send this document
	}

  - The timestamp signature references wsu:Timestamp by its wsu:Id.
  - The assertion signature references the Assertion ID with the
    enveloped-signature transform.

Both use Exclusive XML Canonicalization and are inserted right after the
assertion's Issuer. SHA-256 is the default; crypto.SHA1 can be selected
for gateways that do not accept anything else.

# Verification

Verify checks every ds:Signature in a document against a certificate. A
DigestValue split into several text nodes is rejected before any
cryptography runs, since canonicalization would hide the split.

# Keys

DecryptPrivateKey accepts legacy Proc-Type encrypted PEM, PKCS#8
ENCRYPTED PRIVATE KEY and unencrypted PKCS#1/PKCS#8. TLSCertificate
builds the mutual TLS client certificate from the same identity.

# References

  - WS-Security 1.1.1: https://docs.oasis-open.org/wss/v1.1/
  - SAML 2.0 Core: https://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
  - XML Signature: https://www.w3.org/TR/xmldsig-core1/
  - Exclusive XML Canonicalization: https://www.w3.org/TR/xml-exc-c14n/
*/
package security
