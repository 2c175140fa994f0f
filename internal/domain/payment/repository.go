package payment

import (
	"context"

	"gym_billing_bot/internal/domain/member"
)

// Repository defines operations for payment records.
type Repository interface {
	// Upsert creates or updates the record keyed on (member, month, year)
	// and applies the recomputed member billing state in the same
	// transaction. Either both land or neither does.
	Upsert(ctx context.Context, rec *Record, state member.BillingState) error
	GetByID(ctx context.Context, id int64) (*Record, error)
	GetByPeriod(ctx context.Context, memberID int64, month, year int) (*Record, error)
	LastForMember(ctx context.Context, memberID int64) (*Record, error)
	// Update applies an explicit correction to an existing record. The
	// caller must recheck the member's delinquency afterwards.
	Update(ctx context.Context, rec *Record) error
	// Delete removes a record and returns the owning member id so the
	// caller can trigger a recheck.
	Delete(ctx context.Context, id int64) (int64, error)
	ListForMember(ctx context.Context, memberID int64, limit int) ([]*Record, error)
}
