package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProduct(stock int) *domain.Product {
	return &domain.Product{
		ID:       uuid.New(),
		SKU:      uuid.NewString(),
		Name:     "Linen shirt",
		Price:    decimal.NewFromInt(40),
		Stock:    stock,
		IsActive: true,
		Variants: []domain.Variant{
			{Size: "M", Color: domain.Color{Name: "Navy", Hex: "#000080"}, Stock: stock},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(5)
	require.NoError(t, s.Products().Create(ctx, p))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Products().DecrementStock(ctx, p.ID, 3))
		require.NoError(t, tx.Outbox().Insert(ctx, &repository.OutboxMessage{EventID: "e1", Topic: "orders"}))
		// nested calls join the outer transaction
		return tx.WithTx(ctx, func(inner repository.Store) error {
			require.NoError(t, inner.Products().DecrementVariantStock(ctx, p.ID, "M", "#000080", 2))
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.Products().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Stock)
	assert.Equal(t, 5, after.Variants[0].Stock)
	assert.Equal(t, 0, s.Unsent())
}

func TestConditionalCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(2)
	require.NoError(t, s.Products().Create(ctx, p))

	assert.ErrorIs(t, s.Products().DecrementStock(ctx, p.ID, 3), domain.ErrInsufficientStock)
	require.NoError(t, s.Products().DecrementStock(ctx, p.ID, 2))
	assert.ErrorIs(t, s.Products().DecrementStock(ctx, p.ID, 1), domain.ErrInsufficientStock)

	assert.ErrorIs(t, s.Products().DecrementVariantStock(ctx, p.ID, "L", "#000080", 1), domain.ErrVariantNotFound)
	assert.ErrorIs(t, s.Products().DecrementStock(ctx, uuid.New(), 1), domain.ErrProductNotFound)
	assert.ErrorIs(t, s.Products().Create(ctx, &domain.Product{ID: uuid.New(), SKU: p.SKU}), repository.ErrProductAlreadyExists)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(4)
	require.NoError(t, s.Products().Create(ctx, p))

	p.Stock = 100
	got, err := s.Products().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	got.Variants[0].Stock = 0
	again, _ := s.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 4, again.Variants[0].Stock)
}

func TestOrders_IdempotencyAndTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()
	o := &domain.Order{
		ID:             uuid.New(),
		UserID:         owner,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: "checkout-1",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.Orders().Create(ctx, o))

	dup := &domain.Order{ID: uuid.New(), UserID: owner, IdempotencyKey: "checkout-1"}
	assert.ErrorIs(t, s.Orders().Create(ctx, dup), repository.ErrDuplicateIdempotencyKey)

	// same key for a different user is a different order
	other := &domain.Order{ID: uuid.New(), UserID: uuid.New(), IdempotencyKey: "checkout-1"}
	require.NoError(t, s.Orders().Create(ctx, other))

	found, err := s.Orders().FindByIdempotencyKey(ctx, owner, "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	stranger := uuid.New()
	_, err = s.Orders().TransitionStatus(ctx, o.ID, &stranger, domain.OrderStatusPending, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	cancelled, err := s.Orders().TransitionStatus(ctx, o.ID, &owner, domain.OrderStatusPending, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = s.Orders().TransitionStatus(ctx, o.ID, &owner, domain.OrderStatusPending, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestOutbox_ClaimSkipsLeasedSentAndExhausted(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Outbox().Insert(ctx, &repository.OutboxMessage{EventID: id, Topic: "orders"}))
	}

	claimed, err := s.Outbox().ClaimPending(ctx, 10, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	// everything is leased to the first caller
	again, err := s.Outbox().ClaimPending(ctx, 10, 2, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.Outbox().MarkSent(ctx, claimed[0].ID))
	require.NoError(t, s.Outbox().MarkFailed(ctx, claimed[1].ID, "broker down"))

	// a failure drops the lease; c is still leased
	again, err = s.Outbox().ClaimPending(ctx, 10, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "b", again[0].EventID)
	require.NoError(t, s.Outbox().MarkFailed(ctx, again[0].ID, "broker down"))

	// b is out of attempts
	again, err = s.Outbox().ClaimPending(ctx, 10, 2, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 2, s.Unsent())
}

func TestOutbox_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Outbox().Insert(ctx, &repository.OutboxMessage{EventID: "a", Topic: "orders"}))

	claimed, err := s.Outbox().ClaimPending(ctx, 10, 3, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.Eventually(t, func() bool {
		again, err := s.Outbox().ClaimPending(ctx, 10, 3, time.Minute)
		return err == nil && len(again) == 1
	}, time.Second, 5*time.Millisecond)
}
