package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/notifyd/notifyd/internal/sentry"
	"github.com/notifyd/notifyd/internal/telemetry"
)

// Outcome is the result of processing one claimed outbox message.
type Outcome string

const (
	// OutcomeSkipped: the row was gone, locked elsewhere, or no longer
	// ENQUEUED. Nothing to do.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeSuperseded: a sibling already delivered the notification;
	// the row was closed as SENT without an attempt.
	OutcomeSuperseded Outcome = "superseded"

	// OutcomeDelivered: the channel accepted the message.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeRetried: the attempt failed and the row re-entered the pool
	// behind its backoff gate.
	OutcomeRetried Outcome = "retried"

	// OutcomeFailed: retries exhausted with no successor channel.
	OutcomeFailed Outcome = "failed"

	// OutcomeFellBack: retries exhausted; a successor-channel row was
	// created.
	OutcomeFellBack Outcome = "fell_back"
)

// Processor executes the per-message delivery protocol. The external
// send always runs outside any database transaction; the row's ENQUEUED
// status and the stale-lease reclaim are what keep a crashed worker from
// stranding work.
type Processor struct {
	store     Store
	senders   *DeliverySet
	directory Directory
	cfg       Config
	logger    *telemetry.Logger
}

// NewProcessor creates a processor.
func NewProcessor(store Store, senders *DeliverySet, directory Directory, cfg Config, logger *telemetry.Logger) *Processor {
	if logger == nil {
		logger = telemetry.GetGlobalLogger()
	}
	return &Processor{
		store:     store,
		senders:   senders,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process claims the message, attempts delivery, and settles the result.
// An error means the settlement itself could not be persisted; delivery
// failures are normal outcomes, not errors.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (Outcome, error) {
	claim, err := p.store.ClaimForProcessing(ctx, id)
	if err != nil {
		return OutcomeSkipped, err
	}
	if claim == nil {
		return OutcomeSkipped, nil
	}
	defer claim.Release()

	msg := claim.Message()
	n := claim.Notification()
	log := p.logger.WithContext(ctx).WithFields(logrus.Fields{
		"outbox_id":       msg.ID,
		"notification_id": msg.NotificationID,
		"method":          msg.Method,
		"attempt":         msg.AttemptCount + 1,
	})

	// First success wins: a sibling channel may have delivered while this
	// row waited in the pool.
	if n.IsSent {
		if err := claim.MarkSuperseded(ctx); err != nil {
			return OutcomeSkipped, err
		}
		log.Info("notification already delivered, superseding")
		return OutcomeSuperseded, nil
	}

	// A stale-lease reclaim can hand over a row whose attempts are
	// already spent (crash between attempt and settlement). Close it
	// instead of burning a phantom attempt.
	if !msg.CanRetry() {
		return p.closeExhausted(ctx, claim, msg, n, "retries exhausted before attempt", log)
	}

	if err := claim.RecordAttempt(ctx, time.Now()); err != nil {
		return OutcomeSkipped, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.ChannelTimeout)
	result := p.senders.Send(sendCtx, msg.Method, n, msg.Payload)
	cancel()

	if result.Success {
		if err := p.store.SettleSuccess(ctx, msg); err != nil {
			return OutcomeDelivered, err
		}
		log.Info("notification delivered")
		return OutcomeDelivered, nil
	}

	reason := "delivery failed"
	if result.Err != nil {
		reason = truncateReason(result.Err.Error())
	}
	log = log.WithField("reason", reason)

	if msg.CanRetry() {
		next := time.Now().Add(p.backoffDelay(msg.AttemptCount))
		if err := p.store.SettleRetry(ctx, msg.ID, reason, next); err != nil {
			return OutcomeRetried, err
		}
		log.WithField("next_attempt_at", next).Warn("delivery failed, scheduling retry")
		return OutcomeRetried, nil
	}

	fallback := p.buildFallback(ctx, msg, n)
	if err := p.store.SettleFailure(ctx, msg, reason, fallback); err != nil {
		return OutcomeFailed, err
	}
	sentry.CaptureError(result.Err,
		map[string]string{"method": string(msg.Method)},
		map[string]interface{}{
			"outbox_id":       msg.ID.String(),
			"notification_id": msg.NotificationID.String(),
			"attempt_count":   msg.AttemptCount,
		},
	)
	if fallback != nil {
		log.WithField("fallback_method", fallback.Method).Warn("retries exhausted, falling back")
		return OutcomeFellBack, nil
	}
	log.Error("retries exhausted, no fallback channel")
	return OutcomeFailed, nil
}

func (p *Processor) closeExhausted(ctx context.Context, claim Claim, msg *OutboxMessage, n *Notification, reason string, log *logrus.Entry) (Outcome, error) {
	fallback := p.buildFallback(ctx, msg, n)
	if err := claim.CloseExhausted(ctx, reason, fallback); err != nil {
		return OutcomeSkipped, err
	}
	if fallback != nil {
		log.WithField("fallback_method", fallback.Method).Warn("closing exhausted message, falling back")
		return OutcomeFellBack, nil
	}
	log.Error("closing exhausted message, no fallback channel")
	return OutcomeFailed, nil
}

// buildFallback materializes the successor-channel row, or nil when the
// chain ends at this method.
func (p *Processor) buildFallback(ctx context.Context, msg *OutboxMessage, n *Notification) *OutboxMessage {
	successor, ok := p.cfg.FallbackChain.Successor(msg.Method)
	if !ok {
		return nil
	}
	contact, _ := p.directory.Lookup(ctx, n.UserID)
	payload := BuildPayload(successor, n.Title, n.Message, contact)
	return NewOutboxMessage(n.ID, successor, payload, p.cfg.MaxRetries)
}

// backoffDelay computes base * 2^(attempt-1), capped.
func (p *Processor) backoffDelay(attempt int) time.Duration {
	delay := p.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxRetryDelay {
			return p.cfg.MaxRetryDelay
		}
	}
	if delay > p.cfg.MaxRetryDelay {
		return p.cfg.MaxRetryDelay
	}
	return delay
}

func truncateReason(s string) string {
	const maxLen = 500
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
