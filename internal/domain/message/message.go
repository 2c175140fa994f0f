package message

import (
	"database/sql"
	"time"
)

// Category identifies what kind of notification an attempt carried.
type Category string

const (
	CategoryPaymentConfirmation Category = "payment-confirmation"
	CategoryOverdueReminder     Category = "overdue-reminder"
	CategoryDeactivationNotice  Category = "deactivation-notice"
	CategoryDueSoonReminder     Category = "due-soon-reminder"
	CategoryWelcome             Category = "welcome"
	CategoryWaitlistOffer       Category = "waitlist-offer"
	CategoryWaitlistUpdate      Category = "waitlist-update"
	CategoryInbound             Category = "inbound"
)

// Direction of a ledger entry.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Status is the recorded state of a ledger entry. Entries are append-only;
// the only permitted mutation is promoting a prior "sent" entry to
// "delivered" or "read" when the provider confirms it.
type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusReceived  Status = "received"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Outcome is what a dispatch call reports back to its caller.
//
// OutcomeAccepted means the send was handed off (non-blocking mode) or
// its result could not be confirmed within the time budget (blocking
// mode). An accepted-because-ambiguous send must never be retried
// automatically: a duplicate message is worse than an unconfirmed one.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeSent        Outcome = "sent"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnavailable Outcome = "unavailable" // no transport configured at all
)

// Attempt is one row of the message ledger.
type Attempt struct {
	ID         int64
	MemberID   sql.NullInt64
	Recipient  string
	Category   Category
	Direction  Direction
	Status     Status
	Body       string
	ExternalID sql.NullString // provider message id, or an idempotency key for outbox-driven sends
	FailReason sql.NullString
	CreatedAt  time.Time
}
