package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gym_billing_bot/internal/domain/message"

	"github.com/lib/pq" // For pq.Array and driver registration
)

// Custom errors specific to message repository
var ErrAttemptNotFound = fmt.Errorf("message attempt not found")

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewPostgresMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Record(ctx context.Context, a *message.Attempt) error {
	query := `INSERT INTO message_attempts (member_id, recipient, category, direction, status, body, external_id, fail_reason)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		a.MemberID, a.Recipient, string(a.Category), string(a.Direction), string(a.Status),
		a.Body, a.ExternalID, a.FailReason,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("error recording message attempt: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepository) CountSentSince(ctx context.Context, recipient string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM message_attempts
               WHERE recipient = $1 AND direction = $2 AND created_at >= $3`
	var count int
	err := r.db.QueryRowContext(ctx, query, recipient, string(message.DirectionSent), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting sent attempts: %w", err)
	}
	return count, nil
}

func (r *PostgresMessageRepository) CountFailedSince(ctx context.Context, recipient string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM message_attempts
               WHERE recipient = $1 AND direction = $2 AND status = $3 AND created_at >= $4`
	var count int
	err := r.db.QueryRowContext(ctx, query, recipient, string(message.DirectionSent), string(message.StatusFailed), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting failed attempts: %w", err)
	}
	return count, nil
}

func (r *PostgresMessageRepository) LastSentAt(ctx context.Context, recipient string) (sql.NullTime, error) {
	query := `SELECT created_at FROM message_attempts
               WHERE recipient = $1 AND direction = $2
               ORDER BY created_at DESC LIMIT 1`
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, recipient, string(message.DirectionSent)).Scan(&last.Time)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.NullTime{}, nil
		}
		return sql.NullTime{}, fmt.Errorf("error getting last sent time: %w", err)
	}
	last.Valid = true
	return last, nil
}

func (r *PostgresMessageRepository) HasRecentSent(ctx context.Context, recipient string, category message.Category, since time.Time) (bool, error) {
	// Delivered/read are promoted sent entries and still count as sent.
	query := `SELECT EXISTS (
                   SELECT 1 FROM message_attempts
                   WHERE recipient = $1 AND category = $2 AND direction = $3
                     AND status = ANY($4::varchar[]) AND created_at >= $5
               )`
	sentLike := []string{string(message.StatusSent), string(message.StatusDelivered), string(message.StatusRead)}
	var exists bool
	err := r.db.QueryRowContext(ctx, query,
		recipient, string(category), string(message.DirectionSent), pq.Array(sentLike), since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking recent sent: %w", err)
	}
	return exists, nil
}

func (r *PostgresMessageRepository) ExistsExternalID(ctx context.Context, externalID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM message_attempts WHERE external_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, externalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking external id: %w", err)
	}
	return exists, nil
}

func (r *PostgresMessageRepository) markStatus(ctx context.Context, externalID string, from []string, to message.Status) error {
	query := `UPDATE message_attempts SET status = $1
               WHERE external_id = $2 AND status = ANY($3::varchar[])`
	res, err := r.db.ExecContext(ctx, query, string(to), externalID, pq.Array(from))
	if err != nil {
		return fmt.Errorf("error promoting attempt status to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) MarkDelivered(ctx context.Context, externalID string) error {
	return r.markStatus(ctx, externalID, []string{string(message.StatusSent)}, message.StatusDelivered)
}

func (r *PostgresMessageRepository) MarkRead(ctx context.Context, externalID string) error {
	return r.markStatus(ctx, externalID,
		[]string{string(message.StatusSent), string(message.StatusDelivered)}, message.StatusRead)
}

func (r *PostgresMessageRepository) ListForRecipient(ctx context.Context, recipient string, limit int) ([]*message.Attempt, error) {
	query := `SELECT id, member_id, recipient, category, direction, status, body, external_id, fail_reason, created_at
               FROM message_attempts WHERE recipient = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing attempts for recipient: %w", err)
	}
	defer rows.Close()

	attempts := make([]*message.Attempt, 0)
	for rows.Next() {
		a := &message.Attempt{}
		var category, direction, status string
		if err := rows.Scan(&a.ID, &a.MemberID, &a.Recipient, &category, &direction, &status,
			&a.Body, &a.ExternalID, &a.FailReason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning attempt row: %w", err)
		}
		a.Category = message.Category(category)
		a.Direction = message.Direction(direction)
		a.Status = message.Status(status)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}

func (r *PostgresMessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error deleting old message attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n, nil
}
