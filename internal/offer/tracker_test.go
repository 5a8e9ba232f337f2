package offer

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain"
	"storefront/internal/pricing"
	"storefront/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memstore.Store, offer *domain.LimitedOffer) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:           uuid.New(),
		SKU:          uuid.NewString(),
		Name:         "Canvas tote",
		Price:        decimal.NewFromInt(100),
		Stock:        100,
		IsActive:     true,
		LimitedOffer: offer,
		CreatedAt:    now,
	}
	require.NoError(t, store.Products().Create(context.Background(), p))
	return p
}

func offerWith(sold, maxUnits int) *domain.LimitedOffer {
	return &domain.LimitedOffer{
		IsActive:     true,
		SpecialPrice: decimal.NewFromInt(80),
		MaxUnits:     maxUnits,
		UnitsSold:    sold,
		StartsAt:     now.Add(-time.Hour),
		EndsAt:       now.Add(time.Hour),
		Title:        "Launch week",
	}
}

func newTracker(at time.Time) *Tracker {
	return NewTracker(pricing.NewResolver(func() time.Time { return at }))
}

func TestTryAllocate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := seed(t, store, offerWith(3, 5))
	tr := newTracker(now)

	alloc, err := tr.TryAllocate(ctx, store, p, p.Price, 2)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.True(t, alloc.OfferPrice.Equal(decimal.NewFromInt(80)))
	assert.True(t, alloc.DiscountAmount().Equal(decimal.NewFromInt(40)))

	applied := alloc.AppliedOffer()
	assert.Equal(t, domain.OfferTypeLimitedTime, applied.Type)
	assert.Equal(t, "Launch week", applied.Title)

	// cap reached: no allocation, no error
	alloc, err = tr.TryAllocate(ctx, store, p, p.Price, 1)
	require.NoError(t, err)
	assert.Nil(t, alloc)

	after, _ := store.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 5, after.LimitedOffer.UnitsSold)
}

func TestTryAllocate_NotQualifying(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	expired := offerWith(0, 5)
	expired.EndsAt = now.Add(-time.Minute)
	inactive := offerWith(0, 5)
	inactive.IsActive = false

	tests := []struct {
		name  string
		offer *domain.LimitedOffer
		qty   int
	}{
		{name: "no offer", offer: nil, qty: 1},
		{name: "expired", offer: expired, qty: 1},
		{name: "inactive", offer: inactive, qty: 1},
		{name: "quantity over remaining", offer: offerWith(4, 5), qty: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := seed(t, store, tt.offer)
			alloc, err := newTracker(now).TryAllocate(ctx, store, p, p.Price, tt.qty)
			require.NoError(t, err)
			assert.Nil(t, alloc)

			after, _ := store.Products().FindByID(ctx, p.ID)
			if after.LimitedOffer != nil {
				assert.Equal(t, tt.offer.UnitsSold, after.LimitedOffer.UnitsSold)
			}
		})
	}
}

func TestTryAllocate_ConcurrentCallersNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := seed(t, store, offerWith(0, 7))
	tr := newTracker(now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := tr.TryAllocate(ctx, store, p, p.Price, 1)
			if assert.NoError(t, err) && alloc != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	after, _ := store.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 7, granted)
	assert.Equal(t, 7, after.LimitedOffer.UnitsSold)
}

func TestRelease_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := seed(t, store, offerWith(2, 5))
	tr := newTracker(now)

	require.NoError(t, tr.Release(ctx, store, p.ID, 1))
	after, _ := store.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 1, after.LimitedOffer.UnitsSold)

	require.NoError(t, tr.Release(ctx, store, p.ID, 10))
	after, _ = store.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 0, after.LimitedOffer.UnitsSold)
}

func TestTryAllocate_SkipsWhenOfferIsNoCheaper(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := seed(t, store, offerWith(0, 5))
	tr := newTracker(now)

	for _, original := range []int64{60, 80} {
		alloc, err := tr.TryAllocate(ctx, store, p, decimal.NewFromInt(original), 1)
		require.NoError(t, err)
		assert.Nil(t, alloc, "original price %d", original)
	}

	after, _ := store.Products().FindByID(ctx, p.ID)
	assert.Equal(t, 0, after.LimitedOffer.UnitsSold)
}
