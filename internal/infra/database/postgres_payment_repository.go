package database

import (
	"context"
	"database/sql"
	"fmt"

	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/domain/payment"
)

// Custom errors specific to payment repository
var ErrPaymentNotFound = fmt.Errorf("payment record not found")

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// Upsert records the payment idempotently on (member_id, month, year) and
// applies the recomputed billing state to the member row in the same
// transaction, so a partially applied recompute can never be observed.
func (r *PostgresPaymentRepository) Upsert(ctx context.Context, rec *payment.Record, state member.BillingState) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for payment upsert: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	upsert := `INSERT INTO payments (member_id, amount, month, year, paid_at, method_id)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (member_id, month, year) DO UPDATE
               SET amount = EXCLUDED.amount,
                   method_id = COALESCE(EXCLUDED.method_id, payments.method_id),
                   paid_at = EXCLUDED.paid_at
               RETURNING id`
	err = txn.QueryRowContext(ctx, upsert,
		rec.MemberID, rec.Amount, rec.Month, rec.Year, rec.PaidAt, rec.MethodID,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("error upserting payment record: %w", err)
	}

	update := `UPDATE members
               SET next_due_date = $1, overdue_cycles = $2, active = $3, last_payment_date = $4, updated_at = NOW()
               WHERE id = $5`
	res, err := txn.ExecContext(ctx, update,
		state.NextDue, state.OverdueCycles, state.Active, state.LastPayment, rec.MemberID)
	if err != nil {
		return fmt.Errorf("error applying billing state for member %d: %w", rec.MemberID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}

	return txn.Commit()
}

func scanPayment(row interface {
	Scan(dest ...any) error
}) (*payment.Record, error) {
	rec := &payment.Record{}
	err := row.Scan(&rec.ID, &rec.MemberID, &rec.Amount, &rec.Month, &rec.Year, &rec.PaidAt, &rec.MethodID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const paymentColumns = `id, member_id, amount, month, year, paid_at, method_id`

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	rec, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("error getting payment by ID: %w", err)
	}
	return rec, nil
}

func (r *PostgresPaymentRepository) GetByPeriod(ctx context.Context, memberID int64, month, year int) (*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE member_id = $1 AND month = $2 AND year = $3`
	rec, err := scanPayment(r.db.QueryRowContext(ctx, query, memberID, month, year))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("error getting payment by period: %w", err)
	}
	return rec, nil
}

func (r *PostgresPaymentRepository) LastForMember(ctx context.Context, memberID int64) (*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE member_id = $1 ORDER BY paid_at DESC LIMIT 1`
	rec, err := scanPayment(r.db.QueryRowContext(ctx, query, memberID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("error getting last payment for member: %w", err)
	}
	return rec, nil
}

func (r *PostgresPaymentRepository) Update(ctx context.Context, rec *payment.Record) error {
	query := `UPDATE payments
               SET amount = $1, month = $2, year = $3, paid_at = $4, method_id = $5
               WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, rec.Amount, rec.Month, rec.Year, rec.PaidAt, rec.MethodID, rec.ID)
	if err != nil {
		return fmt.Errorf("error updating payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) Delete(ctx context.Context, id int64) (int64, error) {
	query := `DELETE FROM payments WHERE id = $1 RETURNING member_id`
	var memberID int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&memberID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrPaymentNotFound
		}
		return 0, fmt.Errorf("error deleting payment: %w", err)
	}
	return memberID, nil
}

func (r *PostgresPaymentRepository) ListForMember(ctx context.Context, memberID int64, limit int) ([]*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
               WHERE member_id = $1 ORDER BY paid_at DESC, year DESC, month DESC`
	args := []any{memberID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing payments for member: %w", err)
	}
	defer rows.Close()

	records := make([]*payment.Record, 0)
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning payment row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return records, nil
}
