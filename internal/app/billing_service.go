package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/domain/payment"
	idb "gym_billing_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// BillingService owns the delinquency state machine: payment registration,
// due-date recomputation, overdue accrual and threshold deactivation. All
// mutations of a member's billing fields are serialized per member so a
// payment and a batch recheck cannot interleave.
type BillingService struct {
	members  member.Repository
	payments payment.Repository
	stream   *TransitionStream
	log      *logrus.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewBillingService(
	members member.Repository,
	payments payment.Repository,
	stream *TransitionStream,
	log *logrus.Logger,
) *BillingService {
	return &BillingService{
		members:  members,
		payments: payments,
		stream:   stream,
		log:      log,
		now:      time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// memberLock returns the mutex serializing billing mutations for one
// member. Locks are never reclaimed; the member population is small
// enough that this does not matter.
func (s *BillingService) memberLock(memberID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[memberID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[memberID] = l
	}
	return l
}

// RegisterPayment records a payment for a billing period and resets the
// member's delinquency from the payment date. Registering the same
// (member, month, year) again overwrites the existing record instead of
// creating a duplicate. A suspended member is reactivated unconditionally.
func (s *BillingService) RegisterPayment(ctx context.Context, memberID int64, amount float64, month, year int, paidAt time.Time, methodID sql.NullInt64) (*payment.Record, error) {
	lock := s.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("load member %d: %w", memberID, err)
	}

	schedule, err := member.ComputeSchedule(paidAt, m.CycleDays, s.now())
	if err != nil {
		return nil, fmt.Errorf("recompute schedule for member %d: %w", memberID, err)
	}

	rec := &payment.Record{
		MemberID: memberID,
		Amount:   amount,
		Month:    month,
		Year:     year,
		PaidAt:   paidAt,
		MethodID: methodID,
	}
	state := member.BillingState{
		NextDue:       schedule.NextDue,
		OverdueCycles: 0,
		Active:        true,
		LastPayment:   sql.NullTime{Time: paidAt, Valid: true},
	}
	if err := s.payments.Upsert(ctx, rec, state); err != nil {
		return nil, fmt.Errorf("register payment for member %d: %w", memberID, err)
	}

	m.NextDueDate = sql.NullTime{Time: schedule.NextDue, Valid: true}
	m.OverdueCycles = 0
	m.Active = true
	m.LastPaymentDate = state.LastPayment

	s.log.WithFields(logrus.Fields{
		"member_id": memberID,
		"amount":    amount,
		"period":    fmt.Sprintf("%02d/%d", month, year),
		"next_due":  schedule.NextDue.Format("2006-01-02"),
	}).Info("Payment registered")

	s.stream.Publish(ctx, TransitionEvent{
		Kind:          TransitionPaymentRegistered,
		Member:        m,
		OccurredAt:    s.now(),
		PaymentAmount: amount,
		PaymentDate:   paidAt,
	})
	return rec, nil
}

// UpdatePayment applies a correction to an existing payment record and
// recomputes the owning member's delinquency from scratch.
func (s *BillingService) UpdatePayment(ctx context.Context, rec *payment.Record) error {
	if err := s.payments.Update(ctx, rec); err != nil {
		return fmt.Errorf("update payment %d: %w", rec.ID, err)
	}
	return s.RecheckDelinquency(ctx, rec.MemberID)
}

// DeletePayment removes a payment record and recomputes the owning
// member's delinquency, which may push them back into overdue or
// suspended state.
func (s *BillingService) DeletePayment(ctx context.Context, paymentID int64) error {
	memberID, err := s.payments.Delete(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("delete payment %d: %w", paymentID, err)
	}
	return s.RecheckDelinquency(ctx, memberID)
}

// RecheckDelinquency recomputes a member's billing state from their
// anchor date (last payment, or enrollment when none exists). Crossing
// the deactivation threshold is edge-triggered: the deactivation event
// fires on the transition only, not on later rechecks of an already
// suspended member.
func (s *BillingService) RecheckDelinquency(ctx context.Context, memberID int64) error {
	lock := s.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("load member %d: %w", memberID, err)
	}

	prevOverdue := m.OverdueCycles

	if m.Role.Exempt() {
		// Exempt roles are always kept current.
		if m.OverdueCycles == 0 && m.Active {
			return nil
		}
		m.OverdueCycles = 0
		m.Active = true
		if err := s.members.SaveBillingState(ctx, m); err != nil {
			return fmt.Errorf("save billing state for member %d: %w", memberID, err)
		}
		s.log.WithField("member_id", memberID).Info("Exempt member forced back to current")
		return nil
	}

	// Refresh the anchor from the payments table; the cached
	// last_payment_date is stale after a correction or deletion.
	last, err := s.payments.LastForMember(ctx, memberID)
	switch {
	case err == nil:
		m.LastPaymentDate = sql.NullTime{Time: last.PaidAt, Valid: true}
	case errors.Is(err, idb.ErrPaymentNotFound):
		m.LastPaymentDate = sql.NullTime{}
	default:
		return fmt.Errorf("load last payment for member %d: %w", memberID, err)
	}

	schedule, err := member.ComputeSchedule(m.BillingAnchor(), m.CycleDays, s.now())
	if err != nil {
		return fmt.Errorf("recompute schedule for member %d: %w", memberID, err)
	}

	crossed := prevOverdue < member.DeactivationThreshold &&
		schedule.OverdueCycles >= member.DeactivationThreshold

	m.NextDueDate = sql.NullTime{Time: schedule.NextDue, Valid: true}
	m.OverdueCycles = schedule.OverdueCycles
	if crossed {
		m.Active = false
	}

	if err := s.members.SaveBillingState(ctx, m); err != nil {
		return fmt.Errorf("save billing state for member %d: %w", memberID, err)
	}

	switch {
	case crossed:
		s.log.WithFields(logrus.Fields{
			"member_id":      memberID,
			"overdue_cycles": schedule.OverdueCycles,
		}).Warn("Member crossed the deactivation threshold, membership suspended")
		s.stream.Publish(ctx, TransitionEvent{
			Kind:       TransitionDeactivationThreshold,
			Member:     m,
			OccurredAt: s.now(),
		})
	case schedule.OverdueCycles > prevOverdue:
		s.log.WithFields(logrus.Fields{
			"member_id":      memberID,
			"overdue_cycles": schedule.OverdueCycles,
		}).Info("Member overdue cycles increased")
		s.stream.Publish(ctx, TransitionEvent{
			Kind:       TransitionOverdueIncreased,
			Member:     m,
			OccurredAt: s.now(),
		})
	}
	return nil
}

// RecheckAllDue runs the delinquency recheck for every member whose due
// date has passed. One member failing does not stop the batch.
func (s *BillingService) RecheckAllDue(ctx context.Context) error {
	due, err := s.members.ListDueForRecheck(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list members due for recheck: %w", err)
	}
	s.log.WithField("count", len(due)).Info("Running delinquency recheck batch")

	var failed int
	for _, m := range due {
		if err := s.RecheckDelinquency(ctx, m.ID); err != nil {
			failed++
			s.log.WithError(err).WithField("member_id", m.ID).Error("Delinquency recheck failed for member")
		}
	}
	if failed > 0 {
		return fmt.Errorf("delinquency recheck failed for %d of %d members", failed, len(due))
	}
	return nil
}

// ProcessDueSoonReminders publishes a due-soon event for every active
// member whose next due date falls within the given number of days.
func (s *BillingService) ProcessDueSoonReminders(ctx context.Context, days int) error {
	now := s.now()
	upcoming, err := s.members.ListDueBetween(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return fmt.Errorf("list members due soon: %w", err)
	}
	s.log.WithField("count", len(upcoming)).Info("Running due-soon reminder batch")

	for _, m := range upcoming {
		s.stream.Publish(ctx, TransitionEvent{
			Kind:       TransitionDueSoon,
			Member:     m,
			OccurredAt: now,
		})
	}
	return nil
}

// EnrollMember creates a member with a clean billing state and publishes
// the enrollment event.
func (s *BillingService) EnrollMember(ctx context.Context, m *member.Member) error {
	if m.CycleDays < 1 {
		return fmt.Errorf("enroll member: %w", member.ErrInvalidCycleLength)
	}
	if m.EnrolledAt.IsZero() {
		m.EnrolledAt = s.now()
	}
	m.Active = true
	m.OverdueCycles = 0

	if err := s.members.Create(ctx, m); err != nil {
		return fmt.Errorf("enroll member: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"member_id": m.ID,
		"name":      m.FullName,
		"role":      m.Role,
	}).Info("Member enrolled")

	s.stream.Publish(ctx, TransitionEvent{
		Kind:       TransitionEnrolled,
		Member:     m,
		OccurredAt: s.now(),
	})
	return nil
}
