// Package httpclient builds the HTTP clients relayd uses for outbound
// calls: engine dispatch, GitHub enrichment, and trigger deliveries.
//
// Clients share consistent behavior: exponential-backoff retries with
// jitter, request logging with sensitive query parameters redacted, a
// relay User-Agent, TLS 1.2+ and pooled connections.
//
//	client, err := httpclient.New(httpclient.Config{
//		Timeout:   30 * time.Second,
//		UserAgent: "relayd/1.0",
//	})
//
// Retries cover 5xx, 408, 429 (honoring Retry-After) and transient
// network errors. POST is retried only when Config.RetryPOST is set;
// the engine deduplicates dispatches by execution ID, so the dispatcher
// enables it.
package httpclient
