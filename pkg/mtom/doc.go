// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mtom implements the MTOM/XOP multipart codec used by IHE XCA
document retrieval (ITI-39).

# MIME Structure

Requests and responses carrying binary documents use multipart/related
with an XOP root part:

	Content-Type: multipart/related;
	    type="application/xop+xml";
	    boundary="MIMEBoundary_...";
	    start="<root.message@cxf.apache.org>";
	    start-info="application/soap+xml"

	--MIMEBoundary_...
	Content-ID: <root.message@cxf.apache.org>
	Content-Transfer-Encoding: 8bit
	Content-Type: application/xop+xml; charset=UTF-8; type="application/soap+xml"

	[SOAP Envelope]

	--MIMEBoundary_...
	Content-ID: <doc-1@example.org>
	Content-Transfer-Encoding: binary
	Content-Type: application/pdf

	[Binary document]
	--MIMEBoundary_...--

# Building

	payload, err := mtom.BuildPayload(signedXML)
	req.Header.Set("Content-Type", payload.ContentType)

# Parsing

Responding gateways are inconsistent about line endings, so the parser
locates the header/body separator of each part by trying the start-info
value followed by CRLFCRLF, then CRLFCRLF, then LFLF. Non-multipart
responses are wrapped as a single part so processors never special-case
plain SOAP:

	atts, err := mtom.Decode(resp.ContentType, resp.Body)
	soapXML := atts.Parts[0].Body

# Content IDs

XOP Include elements reference attachments by Content-ID:

	<xop:Include href="cid:doc-1%40example.org"/>

CIDReference percent-decodes the href and strips the cid: scheme, and
Attachments.Find matches it against each part's Content-ID.

# References

  - XOP: https://www.w3.org/TR/xop10/
  - MTOM: https://www.w3.org/TR/soap12-mtom/
  - MIME Multipart: https://datatracker.ietf.org/doc/html/rfc2046
*/
package mtom
