package app

import (
	"context"
	"database/sql"
	"fmt"

	"gym_billing_bot/internal/domain/member"
	idb "gym_billing_bot/internal/infra/database"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrMemberAlreadyExists = fmt.Errorf("member with this chat ID already exists")
var ErrMemberAlreadyInactive = fmt.Errorf("member is already inactive")

// AdminService gates staff-only management operations behind the
// configured admin chat id. Billing semantics stay in BillingService;
// this layer only adds authorization and lookup plumbing.
type AdminService struct {
	memberRepo  member.Repository
	billing     *BillingService
	adminChatID int64
}

func NewAdminService(mr member.Repository, billing *BillingService, adminChatID int64) *AdminService {
	return &AdminService{
		memberRepo:  mr,
		billing:     billing,
		adminChatID: adminChatID,
	}
}

func (s *AdminService) authorize(performingChatID int64) error {
	if performingChatID != s.adminChatID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// AddMember enrolls a new member through the billing service.
func (s *AdminService) AddMember(ctx context.Context, performingChatID int64, fullName string, chatID int64, role member.Role, cycleDays int) (*member.Member, error) {
	if err := s.authorize(performingChatID); err != nil {
		return nil, err
	}

	if chatID != 0 {
		_, err := s.memberRepo.GetByChatID(ctx, chatID)
		if err == nil {
			return nil, ErrMemberAlreadyExists
		}
		if err != idb.ErrMemberNotFound {
			return nil, fmt.Errorf("failed to check existing member: %w", err)
		}
	}

	m := &member.Member{
		FullName:  fullName,
		Role:      role,
		CycleDays: cycleDays,
	}
	if chatID != 0 {
		m.ChatID = sql.NullInt64{Int64: chatID, Valid: true}
	}

	if err := s.billing.EnrollMember(ctx, m); err != nil {
		if err == idb.ErrDuplicateChatID {
			return nil, ErrMemberAlreadyExists
		}
		return nil, fmt.Errorf("failed to enroll member: %w", err)
	}
	return m, nil
}

// DeactivateMember suspends a membership manually, outside the
// delinquency state machine.
func (s *AdminService) DeactivateMember(ctx context.Context, performingChatID int64, memberID int64) (*member.Member, error) {
	if err := s.authorize(performingChatID); err != nil {
		return nil, err
	}

	target, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		if err == idb.ErrMemberNotFound {
			return nil, idb.ErrMemberNotFound // Propagate specific error
		}
		return nil, fmt.Errorf("failed to get member for deactivation: %w", err)
	}

	if !target.Active {
		return target, ErrMemberAlreadyInactive
	}

	target.Active = false
	if err := s.memberRepo.SaveBillingState(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to deactivate member: %w", err)
	}
	return target, nil
}

// RegisterPayment proxies payment registration with the admin check.
func (s *AdminService) RegisterPayment(ctx context.Context, performingChatID int64, memberID int64, amount float64, month, year int, paidAt sql.NullTime) error {
	if err := s.authorize(performingChatID); err != nil {
		return err
	}
	when := paidAt.Time
	if !paidAt.Valid {
		when = s.billing.now()
	}
	_, err := s.billing.RegisterPayment(ctx, memberID, amount, month, year, when, sql.NullInt64{})
	return err
}

// ListMembers returns all members for the admin overview.
func (s *AdminService) ListMembers(ctx context.Context, performingChatID int64) ([]*member.Member, error) {
	if err := s.authorize(performingChatID); err != nil {
		return nil, err
	}
	return s.memberRepo.ListAll(ctx)
}
