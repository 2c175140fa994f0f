package database

import (
	"context"
	"database/sql"
	"fmt"

	"gym_billing_bot/internal/domain/audit"

	"github.com/lib/pq"
)

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Insert(ctx context.Context, e *audit.Entry) error {
	query := `INSERT INTO audit_log (member_id, action, table_name, record_id, new_values)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		e.MemberID, string(e.Action), e.TableName, e.RecordID, e.NewValues,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) ListRecentByActions(ctx context.Context, actions []audit.Action, limit int) ([]*audit.Entry, error) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	query := `SELECT id, member_id, action, table_name, record_id, new_values, created_at
               FROM audit_log
               WHERE action = ANY($1::varchar[])
               ORDER BY id DESC
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(names), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*audit.Entry, 0)
	for rows.Next() {
		e := &audit.Entry{}
		var action string
		if err := rows.Scan(&e.ID, &e.MemberID, &action, &e.TableName, &e.RecordID, &e.NewValues, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning audit row: %w", err)
		}
		e.Action = audit.Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}
