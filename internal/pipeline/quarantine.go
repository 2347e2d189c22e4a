package pipeline

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/logging"
)

// Metadata keys used by the pipeline.
const (
	// MetadataContentType marks the body encoding on published messages.
	MetadataContentType = "content-type"

	// MetadataAttempt is the 1-based processing attempt of a re-queued
	// message. Absent means first attempt.
	MetadataAttempt = "stockflow_attempt"

	// MetadataMaxAttempts records the budget the attempt counter runs
	// against, for operators inspecting re-queued messages.
	MetadataMaxAttempts = "stockflow_max_attempts"
)

const contentTypeJSON = "application/json"

// failureRouter decides what happens to a message the processor could not
// apply: retryable failures with budget left go back onto the source
// queue with an incremented attempt counter; everything else is copied
// verbatim to the dead-letter queue. Either way the original message is
// acknowledged by the caller, so the consumer never blocks on a poison
// message.
type failureRouter struct {
	publisher   message.Publisher
	sourceQueue string
	dlq         string
	maxAttempts int
	metrics     *Metrics
	logger      logging.ServiceLogger
}

// copyVerbatim clones a message without transformation: same UUID, same
// payload bytes, same metadata. DLQ copies must stay byte-identical to
// the message that failed.
func copyVerbatim(msg *message.Message) *message.Message {
	clone := message.NewMessage(msg.UUID, append([]byte(nil), msg.Payload...))
	for k, v := range msg.Metadata {
		clone.Metadata.Set(k, v)
	}
	return clone
}

func attemptOf(msg *message.Message) int {
	raw := msg.Metadata.Get(MetadataAttempt)
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// dispose routes a failed message and reports whether it was re-queued
// (as opposed to quarantined).
func (r *failureRouter) dispose(msg *message.Message, cause error, retryable bool, reason string) bool {
	attempt := attemptOf(msg)

	if retryable && attempt < r.maxAttempts {
		requeued := copyVerbatim(msg)
		requeued.Metadata.Set(MetadataAttempt, strconv.Itoa(attempt+1))
		requeued.Metadata.Set(MetadataMaxAttempts, strconv.Itoa(r.maxAttempts))
		if err := r.publisher.Publish(r.sourceQueue, requeued); err == nil {
			r.metrics.recordRequeued(r.sourceQueue)
			r.logger.Info("Re-queued message after retryable failure", logging.LogFields{
				"message_id": msg.UUID,
				"queue":      r.sourceQueue,
				"attempt":    attempt,
				"error":      cause.Error(),
			})
			return true
		}
		// Requeue publish failed; fall through to quarantine.
	}

	r.quarantine(msg, cause, reason)
	return false
}

// quarantine copies the message verbatim to the DLQ. A failed DLQ publish
// is only logged: the message is acknowledged regardless, trading
// completeness for liveness.
func (r *failureRouter) quarantine(msg *message.Message, cause error, reason string) {
	if err := r.publisher.Publish(r.dlq, copyVerbatim(msg)); err != nil {
		r.logger.Error("Failed to publish message to DLQ, message is lost", err, logging.LogFields{
			"message_id": msg.UUID,
			"dlq":        r.dlq,
		})
		return
	}
	r.metrics.recordQuarantined(r.dlq, reason)
	r.logger.Error("Message quarantined", cause, logging.LogFields{
		"message_id": msg.UUID,
		"dlq":        r.dlq,
		"reason":     reason,
		"attempt":    attemptOf(msg),
	})
}
