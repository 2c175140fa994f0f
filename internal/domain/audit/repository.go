package audit

import "context"

// Repository persists and reads the durable action log.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	// ListRecentByActions returns the newest entries matching any of the
	// given actions, up to limit.
	ListRecentByActions(ctx context.Context, actions []Action, limit int) ([]*Entry, error)
}
