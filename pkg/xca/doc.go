// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xca implements IHE Cross-Community Access: Cross Gateway Query
(ITI-38) and Cross Gateway Retrieve (ITI-39).

# Document Query

BuildQueryRequest renders a FindDocuments AdhocQueryRequest with the
patient id, approved status, optional class, practice setting and
facility type codes, optional service and creation date ranges, and both
the stable and on-demand document entry types. ProcessQueryResponse maps
each ExtrinsicObject of the reply to an ihe.DocumentReference.

# Document Retrieve

BuildRetrieveRequest renders one DocumentRequest per requested document.
RetrieveProcessor decodes the MTOM reply, reads each document inline or
through its XOP reference, ties it back to the caller's correlation id and
stores it under DocumentKey:

	p := &xca.RetrieveProcessor{Store: store, Location: "documents"}
	resp, err := p.Process(ctx, &xca.RetrieveResult{
	    Request:     req,
	    ContentType: out.ContentType,
	    Body:        out.Body,
	})

Documents that already exist in the store are not uploaded again. A
returned document that matches no requested correlation id is an error;
every remote problem is reported as an ihe.OperationOutcome.
*/
package xca
