package message

import (
	"context"
	"database/sql"
	"time"
)

// Repository is the append-only message ledger. The rate limiter and the
// reconciliation flows read their windows from it.
type Repository interface {
	Record(ctx context.Context, a *Attempt) error

	// Sliding-window queries, all filtered to direction = sent for the
	// given recipient.
	CountSentSince(ctx context.Context, recipient string, since time.Time) (int, error)
	CountFailedSince(ctx context.Context, recipient string, since time.Time) (int, error)
	LastSentAt(ctx context.Context, recipient string) (sql.NullTime, error)

	// HasRecentSent reports whether a successful send of the given
	// category was recorded for the recipient since the given time.
	HasRecentSent(ctx context.Context, recipient string, category Category, since time.Time) (bool, error)

	// ExistsExternalID reports whether any entry carries the given
	// external id; used as the idempotency check for outbox-driven sends.
	ExistsExternalID(ctx context.Context, externalID string) (bool, error)

	// Status promotion on provider confirmations, keyed by external id.
	MarkDelivered(ctx context.Context, externalID string) error
	MarkRead(ctx context.Context, externalID string) error

	ListForRecipient(ctx context.Context, recipient string, limit int) ([]*Attempt, error)
	// DeleteOlderThan removes entries created before the cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
