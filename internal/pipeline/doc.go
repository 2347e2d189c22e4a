// Package pipeline implements the event-driven ingestion pipeline: the
// seed publisher, the supplier and product processors, their
// quarantine/retry routing, and the service wiring that runs them on a
// Watermill router.
//
// Processing discipline: every consumed message reaches a terminal state
// and is acknowledged exactly once. Failures never propagate to the
// router; they are routed to a dead-letter queue (verbatim copy of the
// message) or, for retryable failures within the configured attempt
// budget, re-queued with an attempt counter carried in metadata. This
// favours liveness over completeness: a poison message can never block a
// queue.
package pipeline
