package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gym_billing_bot/internal/domain/member"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Custom errors
var ErrMemberNotFound = fmt.Errorf("member not found")
var ErrDuplicateChatID = fmt.Errorf("member with this chat ID already exists")

type PostgresMemberRepository struct {
	db *sql.DB
}

func NewPostgresMemberRepository(db *sql.DB) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

const memberColumns = `id, full_name, phone, chat_id, role, cycle_days, active,
               next_due_date, overdue_cycles, last_payment_date, enrolled_at, created_at, updated_at`

func scanMember(row interface {
	Scan(dest ...any) error
}) (*member.Member, error) {
	m := &member.Member{}
	var role string
	err := row.Scan(&m.ID, &m.FullName, &m.Phone, &m.ChatID, &role, &m.CycleDays, &m.Active,
		&m.NextDueDate, &m.OverdueCycles, &m.LastPaymentDate, &m.EnrolledAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = member.Role(role)
	return m, nil
}

func (r *PostgresMemberRepository) Create(ctx context.Context, m *member.Member) error {
	query := `INSERT INTO members (full_name, phone, chat_id, role, cycle_days, active,
                       next_due_date, overdue_cycles, last_payment_date, enrolled_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		m.FullName, m.Phone, m.ChatID, string(m.Role), m.CycleDays, m.Active,
		m.NextDueDate, m.OverdueCycles, m.LastPaymentDate, m.EnrolledAt,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "members_chat_id_key") {
			return ErrDuplicateChatID
		}
		return fmt.Errorf("error creating member: %w", err)
	}
	return nil
}

func (r *PostgresMemberRepository) GetByID(ctx context.Context, id int64) (*member.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	m, err := scanMember(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error getting member by ID: %w", err)
	}
	return m, nil
}

func (r *PostgresMemberRepository) GetByChatID(ctx context.Context, chatID int64) (*member.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE chat_id = $1`
	m, err := scanMember(r.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error getting member by chat ID: %w", err)
	}
	return m, nil
}

func (r *PostgresMemberRepository) Update(ctx context.Context, m *member.Member) error {
	query := `UPDATE members
               SET full_name = $1, phone = $2, chat_id = $3, role = $4, cycle_days = $5, active = $6, updated_at = NOW()
               WHERE id = $7
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		m.FullName, m.Phone, m.ChatID, string(m.Role), m.CycleDays, m.Active, m.ID,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrMemberNotFound
		}
		return fmt.Errorf("error updating member: %w", err)
	}
	return nil
}

// SaveBillingState persists the recomputed billing fields in a single
// statement so a failed write leaves the stored state untouched.
func (r *PostgresMemberRepository) SaveBillingState(ctx context.Context, m *member.Member) error {
	query := `UPDATE members
               SET next_due_date = $1, overdue_cycles = $2, active = $3, last_payment_date = $4, updated_at = NOW()
               WHERE id = $5
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		m.NextDueDate, m.OverdueCycles, m.Active, m.LastPaymentDate, m.ID,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrMemberNotFound
		}
		return fmt.Errorf("error saving member billing state: %w", err)
	}
	return nil
}

func (r *PostgresMemberRepository) listQuery(ctx context.Context, query string, args ...any) ([]*member.Member, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing members: %w", err)
	}
	defer rows.Close()

	members := make([]*member.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning member: %w", err)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

func (r *PostgresMemberRepository) ListActive(ctx context.Context) ([]*member.Member, error) {
	return r.listQuery(ctx, `SELECT `+memberColumns+` FROM members WHERE active = TRUE ORDER BY full_name`)
}

func (r *PostgresMemberRepository) ListAll(ctx context.Context) ([]*member.Member, error) {
	return r.listQuery(ctx, `SELECT `+memberColumns+` FROM members ORDER BY id`)
}

func (r *PostgresMemberRepository) ListDueForRecheck(ctx context.Context, asOf time.Time) ([]*member.Member, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	query := `SELECT ` + memberColumns + ` FROM members
               WHERE role = $1 AND (next_due_date IS NULL OR next_due_date < $2)
               ORDER BY next_due_date ASC NULLS FIRST`
	return r.listQuery(ctx, query, string(member.RoleMember), day)
}

func (r *PostgresMemberRepository) ListDueBetween(ctx context.Context, from, to time.Time) ([]*member.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members
               WHERE active = TRUE AND next_due_date >= $1 AND next_due_date <= $2
               ORDER BY next_due_date ASC`
	return r.listQuery(ctx, query, from, to)
}
