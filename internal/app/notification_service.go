// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/domain/messenger"

	"github.com/sirupsen/logrus"
)

// NotificationService turns billing transitions into member-facing
// messages. It decides the template and suppression policy; delivery,
// rate limiting and ledgering belong to the Dispatcher.
type NotificationService struct {
	dispatcher *Dispatcher
	ledger     message.Repository
	log        *logrus.Logger
	gymName    string
	now        func() time.Time
}

func NewNotificationService(
	dispatcher *Dispatcher,
	ledger message.Repository,
	log *logrus.Logger,
	gymName string,
) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		ledger:     ledger,
		log:        log,
		gymName:    gymName,
		now:        time.Now,
	}
}

// Bind subscribes the service to a transition stream.
func (s *NotificationService) Bind(stream *TransitionStream) {
	stream.Subscribe(s.handle)
}

func (s *NotificationService) handle(ctx context.Context, ev TransitionEvent) {
	m := ev.Member
	if !m.ChatID.Valid {
		s.log.WithFields(logrus.Fields{
			"member_id":  m.ID,
			"transition": ev.Kind,
		}).Debug("Member has no chat id, skipping notification")
		return
	}
	recipient := strconv.FormatInt(m.ChatID.Int64, 10)

	var req DispatchRequest
	switch ev.Kind {
	case TransitionPaymentRegistered:
		// One confirmation per day per member is plenty, even when staff
		// re-register the same payment to fix a typo.
		if s.suppressed(ctx, recipient, message.CategoryPaymentConfirmation, 24*time.Hour) {
			return
		}
		req = DispatchRequest{
			Category: message.CategoryPaymentConfirmation,
			Template: messenger.TemplatePaymentConfirmation,
			Params: []string{
				m.FullName,
				fmt.Sprintf("%.2f", ev.PaymentAmount),
				ev.PaymentDate.Format("02/01/2006"),
			},
		}

	case TransitionOverdueIncreased:
		req = DispatchRequest{
			Category: message.CategoryOverdueReminder,
			Template: messenger.TemplateOverdueReminder,
			Params: []string{
				m.FullName,
				dueDateString(m),
				strconv.Itoa(m.OverdueCycles),
			},
		}

	case TransitionDeactivationThreshold:
		// The suspension notice must go out even when the member is at
		// their rate limit; it is the one message they must not miss.
		req = DispatchRequest{
			Category: message.CategoryDeactivationNotice,
			Template: messenger.TemplateDeactivationNotice,
			Params: []string{
				m.FullName,
				ev.OccurredAt.Format("02/01/2006"),
				fmt.Sprintf("%d cuotas vencidas", m.OverdueCycles),
			},
			Force: true,
		}

	case TransitionDueSoon:
		if s.suppressed(ctx, recipient, message.CategoryDueSoonReminder, 7*24*time.Hour) {
			return
		}
		req = DispatchRequest{
			Category: message.CategoryDueSoonReminder,
			Template: messenger.TemplateDueSoonReminder,
			Params:   []string{m.FullName, dueDateString(m)},
		}

	case TransitionEnrolled:
		req = DispatchRequest{
			Category: message.CategoryWelcome,
			Template: messenger.TemplateWelcome,
			Params:   []string{m.FullName, s.gymName},
		}

	default:
		s.log.WithField("transition", ev.Kind).Warn("No notification mapped for transition")
		return
	}

	req.MemberID.Int64 = m.ID
	req.MemberID.Valid = true
	req.Recipient = recipient

	outcome, err := s.dispatcher.Send(ctx, req)
	if err != nil {
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNotAllowlisted) {
			s.log.WithError(err).WithFields(logrus.Fields{
				"member_id": m.ID,
				"category":  req.Category,
			}).Info("Notification withheld by dispatch policy")
			return
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"member_id": m.ID,
			"category":  req.Category,
		}).Error("Notification dispatch failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"member_id": m.ID,
		"category":  req.Category,
		"outcome":   outcome,
	}).Debug("Notification dispatched")
}

// suppressed reports whether the same category already went out to the
// recipient within the window. Ledger read errors fail open: a possible
// duplicate reminder beats silently dropping one.
func (s *NotificationService) suppressed(ctx context.Context, recipient string, category message.Category, window time.Duration) bool {
	recent, err := s.ledger.HasRecentSent(ctx, recipient, category, s.now().Add(-window))
	if err != nil {
		s.log.WithError(err).WithField("recipient", recipient).Warn("Suppression check failed, sending anyway")
		return false
	}
	if recent {
		s.log.WithFields(logrus.Fields{
			"recipient": recipient,
			"category":  category,
		}).Debug("Notification suppressed, same category sent recently")
	}
	return recent
}

func dueDateString(m *member.Member) string {
	if m.NextDueDate.Valid {
		return m.NextDueDate.Time.Format("02/01/2006")
	}
	return "-"
}
