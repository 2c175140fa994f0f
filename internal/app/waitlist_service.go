package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gym_billing_bot/internal/domain/audit"
	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/domain/messenger"

	"github.com/sirupsen/logrus"
)

// outboxBatchSize caps how many audit entries one poller run inspects.
const outboxBatchSize = 50

// ErrNoOfferTransport means no interactive transport is available, so a
// promotion offer cannot be sent at all.
var ErrNoOfferTransport = errors.New("no interactive offer transport configured")

// OfferSender delivers an interactive promotion offer. It sits behind its
// own interface because the yes/no buttons need provider-specific markup
// that the plain template transport cannot carry.
type OfferSender interface {
	SendOffer(ctx context.Context, chatID, scheduleID int64, text string) (externalID string, err error)
}

// offerKey is the ledger external id for a promotion offer. The member's
// answer reconstructs it to promote the offer entry to delivered/read.
func offerKey(scheduleID, memberID int64) string {
	return fmt.Sprintf("offer:%d:%d", scheduleID, memberID)
}

// WaitlistService runs the waitlist promotion round trip: it sends the
// interactive offer, records the member's answer in the audit log, and
// polls the audit log as an outbox so each answer gets exactly one
// confirmation. Entries are ledgered under their idempotency key, so an
// entry already present in the ledger is skipped on later runs.
type WaitlistService struct {
	auditLog   audit.Repository
	members    member.Repository
	ledger     message.Repository
	dispatcher *Dispatcher
	offers     OfferSender
	log        *logrus.Logger
}

func NewWaitlistService(
	auditLog audit.Repository,
	members member.Repository,
	ledger message.Repository,
	dispatcher *Dispatcher,
	offers OfferSender,
	log *logrus.Logger,
) *WaitlistService {
	return &WaitlistService{
		auditLog:   auditLog,
		members:    members,
		ledger:     ledger,
		dispatcher: dispatcher,
		offers:     offers,
		log:        log,
	}
}

// OfferPromotion sends the member an interactive offer for a freed slot.
// The answer comes back through the bot callbacks and lands in the audit
// log via RecordPromotion or RecordDecline. The attempt is ledgered under
// the offer key whether the send worked or not.
func (s *WaitlistService) OfferPromotion(ctx context.Context, memberID, scheduleID int64, className, classDate, classTime string) error {
	if s.offers == nil {
		return ErrNoOfferTransport
	}
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("load member %d: %w", memberID, err)
	}
	if !m.ChatID.Valid {
		return fmt.Errorf("member %d has no chat id", m.ID)
	}

	text, err := messenger.Render(messenger.TemplateWaitlistOffer, []string{m.FullName, className, classDate, classTime})
	if err != nil {
		return fmt.Errorf("render waitlist offer: %w", err)
	}

	_, sendErr := s.offers.SendOffer(ctx, m.ChatID.Int64, scheduleID, text)

	attempt := &message.Attempt{
		MemberID:   sql.NullInt64{Int64: m.ID, Valid: true},
		Recipient:  strconv.FormatInt(m.ChatID.Int64, 10),
		Category:   message.CategoryWaitlistOffer,
		Direction:  message.DirectionSent,
		Status:     message.StatusSent,
		Body:       text,
		ExternalID: sql.NullString{String: offerKey(scheduleID, m.ID), Valid: true},
	}
	if sendErr != nil {
		attempt.Status = message.StatusFailed
		attempt.FailReason = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	if err := s.ledger.Record(ctx, attempt); err != nil {
		s.log.WithError(err).Error("Failed to record waitlist offer in ledger")
	}

	if sendErr != nil {
		return fmt.Errorf("send waitlist offer to member %d: %w", m.ID, sendErr)
	}
	s.log.WithFields(logrus.Fields{
		"member_id":   m.ID,
		"schedule_id": scheduleID,
	}).Info("Waitlist offer sent")
	return nil
}

// RecordPromotion appends a promotion entry to the audit log. The outbox
// poller picks it up and sends the confirmation.
func (s *WaitlistService) RecordPromotion(ctx context.Context, memberID int64, scheduleID int64, payload any) error {
	return s.record(ctx, audit.ActionPromoteWaitlist, memberID, scheduleID, payload)
}

// RecordDecline appends a declined-promotion entry to the audit log.
func (s *WaitlistService) RecordDecline(ctx context.Context, memberID int64, scheduleID int64, payload any) error {
	return s.record(ctx, audit.ActionDeclineWaitlistPromotion, memberID, scheduleID, payload)
}

func (s *WaitlistService) record(ctx context.Context, action audit.Action, memberID, scheduleID int64, payload any) error {
	e := &audit.Entry{
		MemberID:  memberID,
		Action:    action,
		TableName: "class_schedules",
		RecordID:  sql.NullInt64{Int64: scheduleID, Valid: true},
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		e.NewValues = sql.NullString{String: string(raw), Valid: true}
	}
	if err := s.auditLog.Insert(ctx, e); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	// An answer proves the offer message reached the member and was seen,
	// so its ledger entry moves through delivered to read.
	s.markOfferSeen(ctx, scheduleID, memberID)
	s.log.WithFields(logrus.Fields{
		"member_id": memberID,
		"action":    action,
		"audit_id":  e.ID,
	}).Info("Waitlist action recorded")
	return nil
}

func (s *WaitlistService) markOfferSeen(ctx context.Context, scheduleID, memberID int64) {
	key := offerKey(scheduleID, memberID)
	if err := s.ledger.MarkDelivered(ctx, key); err != nil {
		s.log.WithField("key", key).Debug("No offer entry to mark delivered")
	}
	if err := s.ledger.MarkRead(ctx, key); err != nil {
		s.log.WithField("key", key).Debug("No offer entry to mark read")
	}
}

// ProcessPendingConfirmations reads recent waitlist entries from the
// audit log and dispatches a confirmation for each one not yet ledgered.
// Entries are processed oldest first so confirmations arrive in order.
func (s *WaitlistService) ProcessPendingConfirmations(ctx context.Context) error {
	entries, err := s.auditLog.ListRecentByActions(ctx, []audit.Action{
		audit.ActionPromoteWaitlist,
		audit.ActionDeclineWaitlistPromotion,
	}, outboxBatchSize)
	if err != nil {
		return fmt.Errorf("list waitlist audit entries: %w", err)
	}

	// ListRecentByActions returns newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		if err := s.processEntry(ctx, entries[i]); err != nil {
			s.log.WithError(err).WithField("audit_id", entries[i].ID).Error("Failed to process waitlist confirmation")
		}
	}
	return nil
}

func (s *WaitlistService) processEntry(ctx context.Context, e *audit.Entry) error {
	key := e.IdempotencyKey()

	done, err := s.ledger.ExistsExternalID(ctx, key)
	if err != nil {
		return fmt.Errorf("check ledger for %s: %w", key, err)
	}
	if done {
		return nil
	}

	m, err := s.members.GetByID(ctx, e.MemberID)
	if err != nil {
		return fmt.Errorf("load member %d: %w", e.MemberID, err)
	}

	template := messenger.TemplateWaitlistPromoted
	if e.Action == audit.ActionDeclineWaitlistPromotion {
		template = messenger.TemplateWaitlistDeclined
	}

	if !m.ChatID.Valid {
		// Ledger a failed attempt under the key so the entry is not
		// rescanned forever.
		attempt := &message.Attempt{
			MemberID:   sql.NullInt64{Int64: m.ID, Valid: true},
			Recipient:  "",
			Category:   message.CategoryWaitlistUpdate,
			Direction:  message.DirectionSent,
			Status:     message.StatusFailed,
			ExternalID: sql.NullString{String: key, Valid: true},
			FailReason: sql.NullString{String: "member has no chat id", Valid: true},
		}
		if err := s.ledger.Record(ctx, attempt); err != nil {
			return fmt.Errorf("record missing-recipient attempt: %w", err)
		}
		s.log.WithField("member_id", m.ID).Warn("Waitlist confirmation skipped, member has no chat id")
		return nil
	}

	className, classDate, classTime := parseClassDetails(e.NewValues)
	_, err = s.dispatcher.Send(ctx, DispatchRequest{
		MemberID:       sql.NullInt64{Int64: m.ID, Valid: true},
		Recipient:      strconv.FormatInt(m.ChatID.Int64, 10),
		Category:       message.CategoryWaitlistUpdate,
		Template:       template,
		Params:         []string{m.FullName, className, classDate, classTime},
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("dispatch waitlist confirmation %s: %w", key, err)
	}
	return nil
}

// parseClassDetails pulls the class name, date and time out of the JSON
// payload captured with the audit entry. Missing fields degrade to a
// dash rather than failing the confirmation.
func parseClassDetails(raw sql.NullString) (name, date, tm string) {
	name, date, tm = "-", "-", "-"
	if !raw.Valid {
		return
	}
	var payload struct {
		ClassName string `json:"class_name"`
		ClassDate string `json:"class_date"`
		ClassTime string `json:"class_time"`
	}
	if err := json.Unmarshal([]byte(raw.String), &payload); err != nil {
		return
	}
	if payload.ClassName != "" {
		name = payload.ClassName
	}
	if payload.ClassDate != "" {
		if parsed, err := time.Parse("2006-01-02", payload.ClassDate); err == nil {
			date = parsed.Format("02/01/2006")
		} else {
			date = payload.ClassDate
		}
	}
	if payload.ClassTime != "" {
		tm = payload.ClassTime
	}
	return
}
