package app

import (
	"context"
	"time"

	"gym_billing_bot/internal/domain/member"
)

// TransitionKind names a billing state change that listeners may react to.
type TransitionKind string

const (
	TransitionPaymentRegistered     TransitionKind = "payment_registered"
	TransitionOverdueIncreased      TransitionKind = "overdue_increased"
	TransitionDeactivationThreshold TransitionKind = "deactivation_threshold"
	TransitionDueSoon               TransitionKind = "due_soon"
	TransitionEnrolled              TransitionKind = "enrolled"
)

// TransitionEvent is emitted after the billing state for a member has
// been persisted. Member is the post-transition snapshot.
type TransitionEvent struct {
	Kind       TransitionKind
	Member     *member.Member
	OccurredAt time.Time

	// PaymentAmount and PaymentDate are set for TransitionPaymentRegistered.
	PaymentAmount float64
	PaymentDate   time.Time
}

// TransitionListener handles one event. Errors are the listener's own
// business; the publisher does not collect them.
type TransitionListener func(ctx context.Context, ev TransitionEvent)

// TransitionStream is a minimal synchronous fan-out: publish calls every
// subscribed listener in order, on the publisher's goroutine. Listeners
// are registered during wiring, before any publishing starts, so no
// locking is needed.
type TransitionStream struct {
	listeners []TransitionListener
}

func NewTransitionStream() *TransitionStream {
	return &TransitionStream{}
}

func (s *TransitionStream) Subscribe(l TransitionListener) {
	s.listeners = append(s.listeners, l)
}

func (s *TransitionStream) Publish(ctx context.Context, ev TransitionEvent) {
	for _, l := range s.listeners {
		l(ctx, ev)
	}
}
