package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/domain/messenger"
	"gym_billing_bot/internal/infra/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotAllowlisted means the allowlist is enabled and the recipient is
// not on it. The attempt is still recorded as failed in the ledger.
var ErrNotAllowlisted = errors.New("recipient is not allowlisted")

// pendingTTL bounds how long an ambiguous (timed out) send keeps its
// idempotency key parked. Within that window a repeat of the same key is
// refused rather than risking a duplicate message.
const pendingTTL = 30 * time.Minute

// DispatchRequest describes one outbound message.
type DispatchRequest struct {
	MemberID  sql.NullInt64
	Recipient string
	Category  message.Category
	Template  messenger.TemplateID
	Params    []string

	// IdempotencyKey, when set, is stored as the ledger entry's external
	// id so outbox pollers can detect an already-processed item. It also
	// keys the pending registry for ambiguous sends.
	IdempotencyKey string

	// Force skips the rate-limit admission check. The allowlist gate is
	// never skipped.
	Force bool
}

// Dispatcher pushes messages through the primary transport, falling back
// to the secondary when the primary is absent, under the rate-limit and
// allowlist policy. Every terminal attempt lands in the message ledger
// exactly once.
type Dispatcher struct {
	primary  messenger.Client
	fallback messenger.Client
	limiter  *RateLimiter
	ledger   message.Repository
	cfg      *DispatchConfigProvider
	pending  *memstore.TTLStore
	log      *logrus.Logger

	mu       sync.Mutex
	inflight map[string]int // recipient -> sends admitted but not yet recorded
	wg       sync.WaitGroup
}

func NewDispatcher(
	primary, fallback messenger.Client,
	limiter *RateLimiter,
	ledger message.Repository,
	cfg *DispatchConfigProvider,
	pending *memstore.TTLStore,
	log *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		primary:  primary,
		fallback: fallback,
		limiter:  limiter,
		ledger:   ledger,
		cfg:      cfg,
		pending:  pending,
		log:      log,
		inflight: make(map[string]int),
	}
}

// Send runs the full admission and delivery pipeline for one message.
//
// The returned outcome is terminal for the caller: OutcomeSent and
// OutcomeFailed are confirmed results, OutcomeAccepted means the result is
// unknown (handed off, or timed out waiting) and must not be retried, and
// OutcomeUnavailable means no transport is configured so nothing was
// attempted or recorded.
func (d *Dispatcher) Send(ctx context.Context, req DispatchRequest) (message.Outcome, error) {
	cfg := d.cfg.Current()
	dispatchID := uuid.NewString()

	if !cfg.Allowlisted(req.Recipient) {
		d.recordAttempt(ctx, req, message.StatusFailed, "", "not_allowlisted")
		d.log.WithField("recipient", req.Recipient).Warn("Send refused: recipient not allowlisted")
		return message.OutcomeFailed, ErrNotAllowlisted
	}

	if d.primary == nil && d.fallback == nil {
		d.log.Warn("Send skipped: no messaging transport configured")
		return message.OutcomeUnavailable, nil
	}

	if req.IdempotencyKey != "" {
		if _, parked := d.pending.Get(req.IdempotencyKey); parked {
			d.log.WithField("key", req.IdempotencyKey).Info("Send skipped: prior attempt with this key is still unresolved")
			return message.OutcomeAccepted, nil
		}
	}

	if err := d.admit(ctx, req); err != nil {
		return message.OutcomeFailed, err
	}

	// Park the key before the worker starts. deliver releases it once the
	// ledger row is written, so a fast result can never race a later park
	// and leave a resolved key stuck for the full TTL.
	if req.IdempotencyKey != "" {
		d.pending.Put(req.IdempotencyKey, dispatchID, pendingTTL)
	}

	if cfg.NonBlocking {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(dispatchID, req)
		}()
		return message.OutcomeAccepted, nil
	}

	done := make(chan message.Outcome, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		done <- d.deliver(dispatchID, req)
	}()

	timer := time.NewTimer(cfg.SendTimeout)
	defer timer.Stop()
	select {
	case outcome := <-done:
		return outcome, nil
	case <-timer.C:
		// The worker keeps running and will record its result; we just
		// stop waiting for it. The key stays parked so nobody retries it.
		d.log.WithFields(logrus.Fields{
			"dispatch_id": dispatchID,
			"recipient":   req.Recipient,
			"category":    req.Category,
		}).Warn("Send result not confirmed within timeout, reporting as accepted")
		return message.OutcomeAccepted, nil
	}
}

// admit reserves a delivery slot for the recipient. It holds the
// per-recipient critical section across the window checks and the
// in-flight increment so two concurrent sends cannot both pass on the
// same ledger snapshot.
func (d *Dispatcher) admit(ctx context.Context, req DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !req.Force {
		if d.inflight[req.Recipient] > 0 {
			return fmt.Errorf("%w: a send to this recipient is already in flight", ErrRateLimited)
		}
		if err := d.limiter.MayAttempt(ctx, req.Recipient); err != nil {
			return err
		}
	}
	d.inflight[req.Recipient]++
	return nil
}

// deliver performs the actual transport call and writes the single ledger
// row for the attempt. It runs on an uncancelled context: a send that
// outlives the caller's budget may still complete, and its real outcome
// must land in the ledger rather than a synthetic cancellation failure.
// The transports bound their own calls with client-side timeouts.
func (d *Dispatcher) deliver(dispatchID string, req DispatchRequest) message.Outcome {
	defer func() {
		d.mu.Lock()
		if d.inflight[req.Recipient] > 0 {
			d.inflight[req.Recipient]--
			if d.inflight[req.Recipient] == 0 {
				delete(d.inflight, req.Recipient)
			}
		}
		d.mu.Unlock()
	}()
	if req.IdempotencyKey != "" {
		defer d.pending.Delete(req.IdempotencyKey)
	}

	ctx := context.Background()

	client := d.primary
	if client == nil {
		client = d.fallback
		d.log.Debug("Primary transport not initialized, using fallback client")
	}

	externalID, err := client.SendTemplate(ctx, req.Recipient, req.Template, req.Params)
	if err != nil && client == d.primary && d.fallback != nil {
		d.log.WithError(err).Warn("Primary transport failed, retrying via fallback client")
		externalID, err = d.fallback.SendTemplate(ctx, req.Recipient, req.Template, req.Params)
	}

	if err != nil {
		d.recordAttempt(context.Background(), req, message.StatusFailed, externalID, err.Error())
		d.log.WithError(err).WithFields(logrus.Fields{
			"dispatch_id": dispatchID,
			"recipient":   req.Recipient,
			"category":    req.Category,
		}).Error("Message send failed")
		return message.OutcomeFailed
	}

	d.recordAttempt(context.Background(), req, message.StatusSent, externalID, "")
	d.log.WithFields(logrus.Fields{
		"dispatch_id": dispatchID,
		"recipient":   req.Recipient,
		"category":    req.Category,
		"external_id": externalID,
	}).Info("Message sent")
	return message.OutcomeSent
}

// recordAttempt writes the ledger row. When the request carries an
// idempotency key it wins over the provider id, so outbox pollers can
// find the entry by the key they generated.
func (d *Dispatcher) recordAttempt(ctx context.Context, req DispatchRequest, status message.Status, externalID, failReason string) {
	attempt := &message.Attempt{
		MemberID:  req.MemberID,
		Recipient: req.Recipient,
		Category:  req.Category,
		Direction: message.DirectionSent,
		Status:    status,
	}
	if body, err := messenger.Render(req.Template, req.Params); err == nil {
		attempt.Body = body
	}
	id := externalID
	if req.IdempotencyKey != "" {
		id = req.IdempotencyKey
	}
	if id != "" {
		attempt.ExternalID = sql.NullString{String: id, Valid: true}
	}
	if failReason != "" {
		attempt.FailReason = sql.NullString{String: failReason, Valid: true}
	}
	if err := d.ledger.Record(ctx, attempt); err != nil {
		d.log.WithError(err).WithField("recipient", req.Recipient).Error("Failed to record message attempt in ledger")
	}
}

// Close waits for all in-flight delivery workers to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
