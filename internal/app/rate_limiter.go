package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym_billing_bot/internal/domain/message"
)

// ErrRateLimited means the recipient failed one of the anti-spam windows.
// The caller decides whether that is a hard error or just "not now".
var ErrRateLimited = errors.New("recipient is rate limited")

// RateLimiter enforces the per-recipient anti-spam policy against the
// message ledger. All four rules must pass for an attempt to be admitted:
// hourly count, daily count, minimum spacing since the last successful
// send, and a failure budget over the last 24 hours.
type RateLimiter struct {
	ledger message.Repository
	cfg    *DispatchConfigProvider
	now    func() time.Time
}

func NewRateLimiter(ledger message.Repository, cfg *DispatchConfigProvider) *RateLimiter {
	return &RateLimiter{ledger: ledger, cfg: cfg, now: time.Now}
}

// MayAttempt returns nil when a send to the recipient is admissible right
// now, or an error wrapping ErrRateLimited naming the violated rule.
// Ledger read failures are returned as-is. It does not reserve anything:
// the caller must hold the per-recipient admission section so the check
// and the eventual ledger write are not interleaved with another sender.
func (r *RateLimiter) MayAttempt(ctx context.Context, recipient string) error {
	cfg := r.cfg.Current()
	now := r.now()

	sentLastHour, err := r.ledger.CountSentSince(ctx, recipient, now.Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("count hourly sends: %w", err)
	}
	if sentLastHour >= cfg.MaxPerHour {
		return fmt.Errorf("%w: %d messages in the last hour (max %d)", ErrRateLimited, sentLastHour, cfg.MaxPerHour)
	}

	sentLastDay, err := r.ledger.CountSentSince(ctx, recipient, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("count daily sends: %w", err)
	}
	if sentLastDay >= cfg.MaxPerDay {
		return fmt.Errorf("%w: %d messages in the last 24h (max %d)", ErrRateLimited, sentLastDay, cfg.MaxPerDay)
	}

	lastSent, err := r.ledger.LastSentAt(ctx, recipient)
	if err != nil {
		return fmt.Errorf("load last send time: %w", err)
	}
	if lastSent.Valid {
		if elapsed := now.Sub(lastSent.Time); elapsed < cfg.MinInterval {
			return fmt.Errorf("%w: last message %s ago (min interval %s)", ErrRateLimited, elapsed.Round(time.Second), cfg.MinInterval)
		}
	}

	failures, err := r.ledger.CountFailedSince(ctx, recipient, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("count recent failures: %w", err)
	}
	if failures >= cfg.MaxFailures {
		return fmt.Errorf("%w: %d failed attempts in the last 24h (max %d)", ErrRateLimited, failures, cfg.MaxFailures)
	}

	return nil
}
