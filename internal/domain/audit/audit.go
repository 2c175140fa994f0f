package audit

import (
	"database/sql"
	"fmt"
	"time"
)

// Action names a recorded domain event in the audit log.
type Action string

const (
	ActionPromoteWaitlist          Action = "auto_promote_waitlist"
	ActionDeclineWaitlistPromotion Action = "decline_waitlist_promotion"
)

// Entry is one row of the durable action log. The waitlist confirmation
// outbox reads these and reacts with at most one notification per entry.
type Entry struct {
	ID        int64
	MemberID  int64
	Action    Action
	TableName string
	RecordID  sql.NullInt64  // the class schedule row the action refers to
	NewValues sql.NullString // JSON payload captured at write time
	CreatedAt time.Time
}

// IdempotencyKey is the stable key under which the reply notification is
// ledgered, so reprocessing the log never confirms the same entry twice.
func (e *Entry) IdempotencyKey() string {
	return fmt.Sprintf("audit:%d", e.ID)
}
