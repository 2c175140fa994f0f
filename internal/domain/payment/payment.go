package payment

import (
	"database/sql"
	"time"
)

// Record is a registered membership payment. At most one record exists
// per (member, month, year); registering the same period again updates
// the existing record.
type Record struct {
	ID       int64
	MemberID int64
	Amount   float64
	Month    int // billing period, 1-12
	Year     int
	PaidAt   time.Time
	MethodID sql.NullInt64
}
