package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateIdempotencyKey is returned when an order with the same (user, idempotency key) already exists
var ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories that must change together and exposes the transaction boundary
type Store interface {
	Products() ProductRepository
	Orders() OrderRepository
	Outbox() OutboxRepository

	// WithTx runs fn inside a single transaction. The Store passed to fn is bound to it;
	// calling WithTx on that Store again reuses the same transaction.
	// Any error returned by fn rolls the transaction back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type sqlStore struct {
	db   *sql.DB
	q    DBTX
	inTx bool
}

// NewStore creates a Postgres-backed Store
func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Products() ProductRepository { return &productRepository{db: s.q} }
func (s *sqlStore) Orders() OrderRepository     { return &orderRepository{db: s.q} }
func (s *sqlStore) Outbox() OutboxRepository    { return &outboxRepository{db: s.q} }

func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique violation, optionally on a named constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
