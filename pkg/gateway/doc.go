// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package gateway orchestrates outbound IHE transactions: patient
// discovery (ITI-55), document query (ITI-38) and document retrieval
// (ITI-39) against responding gateways.
//
// Each transaction is retried at the outcome level. An attempt that ends
// in a retryable OperationOutcome is repeated after an exponential
// backoff with jitter, rebuilding and re-signing the envelope so its
// timestamps stay fresh:
//
//	resp, err := gateway.Execute(ctx, cfg, attemptFn, shouldRetry)
//
// Transport failures and unparseable responses are not retried here; the
// transport applies its own short retry loop for 502, 503 and 504.
//
// # Fan-out
//
// DiscoverPatients, QueryAll and RetrieveAll run one pipeline per gateway
// concurrently, wait for all of them and return results in input order.
// A fatal error in one pipeline becomes a schema-error outcome for that
// gateway only.
//
// # Side effects
//
// Archiving raw responses, posting outcomes to a Sink and recording them
// for reports are best effort. Their failures are logged and never change
// the returned result.
//
//	client, err := gateway.NewClient(gateway.Config{
//		Transport: transport.NewHTTPSClient(tlsConfig),
//		Keys:      keys,
//		Store:     store,
//		Sink:      sink,
//	})
//	results, err := client.DiscoverPatients(ctx, req)
package gateway
