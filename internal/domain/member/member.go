package member

import (
	"database/sql"
	"time"
)

// Role classifies a member. Staff roles are exempt from delinquency:
// they never accrue overdue cycles and are never deactivated for
// missing payments.
type Role string

const (
	RoleMember     Role = "MEMBER"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStaff      Role = "STAFF"
	RoleOwner      Role = "OWNER"
)

// Exempt reports whether the role is excluded from delinquency accrual.
func (r Role) Exempt() bool {
	switch r {
	case RoleInstructor, RoleStaff, RoleOwner:
		return true
	}
	return false
}

// State is the derived billing state of a member.
type State string

const (
	StateCurrent   State = "CURRENT"
	StateOverdue   State = "OVERDUE"
	StateSuspended State = "SUSPENDED"
	StateExempt    State = "EXEMPT"
)

// DeactivationThreshold is the number of fully missed cycles after which
// a non-exempt member is suspended.
const DeactivationThreshold = 3

// Member represents a gym member. Billing fields (NextDueDate,
// OverdueCycles, Active, LastPaymentDate) are owned by the billing
// service and must only be mutated through it.
type Member struct {
	ID              int64
	FullName        string
	Phone           sql.NullString
	ChatID          sql.NullInt64 // messenger chat id; members without one cannot be notified
	Role            Role
	CycleDays       int // membership cycle length in days
	Active          bool
	NextDueDate     sql.NullTime
	OverdueCycles   int
	LastPaymentDate sql.NullTime
	EnrolledAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// State derives the billing state from the persisted fields.
func (m *Member) State() State {
	if m.Role.Exempt() {
		return StateExempt
	}
	if m.OverdueCycles >= DeactivationThreshold {
		return StateSuspended
	}
	if m.OverdueCycles > 0 {
		return StateOverdue
	}
	return StateCurrent
}

// BillingAnchor is the date delinquency arithmetic starts from: the most
// recent payment when one exists, the enrollment date otherwise.
func (m *Member) BillingAnchor() time.Time {
	if m.LastPaymentDate.Valid {
		return m.LastPaymentDate.Time
	}
	return m.EnrolledAt
}

// BillingState carries the recomputed billing fields that are persisted
// as one unit together with a payment record.
type BillingState struct {
	NextDue       time.Time
	OverdueCycles int
	Active        bool
	LastPayment   sql.NullTime
}
