package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

// OutboxMessage is an event waiting to be handed to the notification collaborator
type OutboxMessage struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// OutboxRepository stores events written in the same transaction as the state change they describe
type OutboxRepository interface {
	Insert(ctx context.Context, msg *OutboxMessage) error
	// ClaimPending leases up to limit unsent messages to the caller for lease, oldest first.
	// Messages under another caller's lease are skipped until it runs out.
	ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkFailed records an attempt and drops the lease so the message is retried
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type outboxRepository struct {
	db DBTX
}

// NewOutboxRepository creates a new instance of OutboxRepository
func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Insert(ctx context.Context, msg *OutboxMessage) error {
	query := `
		INSERT INTO outbox (event_id, topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, query, msg.EventID, msg.Topic, msg.Key, msg.Payload, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]OutboxMessage, error) {
	query := `
		UPDATE outbox
		SET locked_until = now() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE sent_at IS NULL
			  AND attempts < $2
			  AND (locked_until IS NULL OR locked_until < now())
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, topic, key, payload, attempts, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, limit, maxAttempts, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.EventID, &msg.Topic, &msg.Key, &msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	// RETURNING does not keep the subquery's order
	slices.SortFunc(messages, func(a, b OutboxMessage) int { return cmp.Compare(a.ID, b.ID) })
	return messages, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = now(), attempts = attempts + 1, locked_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message sent: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $2, locked_until = NULL WHERE id = $1`,
		id, sql.NullString{String: reason, Valid: reason != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message failed: %w", err)
	}
	return nil
}
