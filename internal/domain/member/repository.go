package member

import (
	"context"
	"time"
)

// Repository defines the operations for persisting and retrieving Member entities.
type Repository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id int64) (*Member, error)
	GetByChatID(ctx context.Context, chatID int64) (*Member, error)
	Update(ctx context.Context, m *Member) error // profile fields: name, phone, chat id, role, cycle length
	// SaveBillingState persists next_due_date, overdue_cycles, active and
	// last_payment_date in a single statement. A failure leaves the stored
	// state untouched so the caller can retry the whole recompute.
	SaveBillingState(ctx context.Context, m *Member) error
	ListActive(ctx context.Context) ([]*Member, error)
	ListAll(ctx context.Context) ([]*Member, error)
	// ListDueForRecheck returns non-exempt members whose due date has
	// passed as of the given day, or who have never had one computed.
	ListDueForRecheck(ctx context.Context, asOf time.Time) ([]*Member, error)
	// ListDueBetween returns active members whose next due date falls in
	// [from, to]; used for upcoming-due reminders.
	ListDueBetween(ctx context.Context, from, to time.Time) ([]*Member, error)
}
