// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xcpd implements IHE Cross-Community Patient Discovery (ITI-55).

Outbound, BuildRequests renders and signs one PRPA_IN201305UV02 envelope
per gateway and ProcessResponse classifies each PRPA_IN201306UV02 reply:

	signed, err := xcpd.BuildRequests(req, keys, xcpd.Options{})
	for _, s := range signed {
	    result := &xcpd.Result{Gateway: s.Gateway, Request: s.Request}
	    out, err := client.Post(ctx, &transport.Request{URL: s.Gateway.URL, Body: []byte(s.SignedXML)})
	    if err != nil {
	        result.Err = err
	    } else {
	        result.Body = out.Body
	    }
	    resp := xcpd.ProcessResponse(result)
	}

PatientMatch is true for a match, false for an explicit no-match (NF) and
nil for transport errors, unparseable replies, SOAP faults and
application errors.

Inbound, ParseInboundRequest reads the query of a remote initiating
gateway and BuildInboundResponse renders the answer.
*/
package xcpd
