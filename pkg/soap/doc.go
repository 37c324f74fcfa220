// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package soap provides the SOAP 1.2 and WS-Addressing envelope shared by the
IHE transactions, together with helpers for reading responses whose
namespace prefixes vary between gateways.

# Building

An Envelope carries the addressing headers, an optional wsse:Security
element and the transaction body:

	env := &soap.Envelope{
	    To:       gw.URL,
	    Action:   soap.ActionCrossGatewayQuery,
	    Security: header,
	    Body:     body,
	}
	xml, err := env.String()

Documents are serialized without indentation. Whitespace text nodes
would otherwise change the canonical form of signed elements.

# Parsing

Gateways disagree on namespace prefixes (soap:, S:, env:, ns2:, none).
Parse reads a document and clears every element prefix so callers can
address elements by local name only:

	doc, err := soap.Parse(body)
	resp := doc.FindElement("//AdhocQueryResponse")

Attributes keep their keys; only the prefix is dropped.

# Faults

ParseFault extracts the SOAP 1.2 Fault Code/Value and Reason/Text from a
parsed envelope, if present.
*/
package soap
