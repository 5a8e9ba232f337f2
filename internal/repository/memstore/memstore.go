// Package memstore is an in-process repository.Store. It applies the same conditional
// update rules as the Postgres store and backs the memory driver and service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

type data struct {
	products     map[uuid.UUID]*domain.Product
	skus         map[string]uuid.UUID
	orders       map[uuid.UUID]*domain.Order
	idempotency  map[string]uuid.UUID
	outbox       []*repository.OutboxMessage
	sent         map[int64]bool
	lastErr      map[int64]string
	lockedUntil  map[int64]time.Time
	nextOutboxID int64
}

func newData() *data {
	return &data{
		products:    make(map[uuid.UUID]*domain.Product),
		skus:        make(map[string]uuid.UUID),
		orders:      make(map[uuid.UUID]*domain.Order),
		idempotency: make(map[string]uuid.UUID),
		sent:        make(map[int64]bool),
		lastErr:     make(map[int64]string),
		lockedUntil: make(map[int64]time.Time),
	}
}

func (d *data) clone() *data {
	cp := newData()
	for id, p := range d.products {
		cp.products[id] = p.Clone()
	}
	for sku, id := range d.skus {
		cp.skus[sku] = id
	}
	for id, o := range d.orders {
		cp.orders[id] = o.Clone()
	}
	for k, id := range d.idempotency {
		cp.idempotency[k] = id
	}
	cp.outbox = make([]*repository.OutboxMessage, len(d.outbox))
	for i, msg := range d.outbox {
		m := *msg
		cp.outbox[i] = &m
	}
	for id, v := range d.sent {
		cp.sent[id] = v
	}
	for id, v := range d.lastErr {
		cp.lastErr[id] = v
	}
	for id, v := range d.lockedUntil {
		cp.lockedUntil[id] = v
	}
	cp.nextOutboxID = d.nextOutboxID
	return cp
}

type shared struct {
	mu sync.Mutex
	d  *data
}

// Store is a mutex-guarded repository.Store. A transaction holds the lock for its whole
// duration and restores a snapshot if fn fails.
type Store struct {
	sh   *shared
	inTx bool
}

// New creates an empty Store
func New() *Store {
	return &Store{sh: &shared{d: newData()}}
}

func (s *Store) Products() repository.ProductRepository { return &productRepo{s} }
func (s *Store) Orders() repository.OrderRepository     { return &orderRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository    { return &outboxRepo{s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	snapshot := s.sh.d.clone()
	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.d = snapshot
		return err
	}
	return nil
}

// Unsent returns the number of outbox messages not yet marked sent
func (s *Store) Unsent() int {
	defer s.lock()()
	n := 0
	for _, msg := range s.d().outbox {
		if !s.d().sent[msg.ID] {
			n++
		}
	}
	return n
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.sh.mu.Lock()
	return s.sh.mu.Unlock
}

func (s *Store) d() *data { return s.sh.d }

type productRepo struct{ s *Store }

func (r *productRepo) Create(ctx context.Context, product *domain.Product) error {
	defer r.s.lock()()
	d := r.s.d()

	if _, ok := d.skus[product.SKU]; ok {
		return repository.ErrProductAlreadyExists
	}
	d.products[product.ID] = product.Clone()
	d.skus[product.SKU] = product.ID
	return nil
}

func (r *productRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	defer r.s.lock()()

	p, ok := r.s.d().products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return p.Clone(), nil
}

func (r *productRepo) List(ctx context.Context, page, pageSize int) ([]*domain.Product, int, error) {
	defer r.s.lock()()

	var active []*domain.Product
	for _, p := range r.s.d().products {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID.String() < active[j].ID.String()
	})

	products := []*domain.Product{}
	for _, p := range paginate(active, page, pageSize) {
		products = append(products, p.Clone())
	}
	return products, len(active), nil
}

func (r *productRepo) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	defer r.s.lock()()

	p, ok := r.s.d().products[id]
	if !ok || !p.IsActive {
		return domain.ErrProductNotFound
	}
	if p.Stock < quantity {
		return domain.ErrInsufficientStock
	}
	p.Stock -= quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *productRepo) IncrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	defer r.s.lock()()

	p, ok := r.s.d().products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *productRepo) DecrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error {
	defer r.s.lock()()

	v, err := r.variant(id, size, colorHex)
	if err != nil {
		return err
	}
	if v.Stock < quantity {
		return domain.ErrInsufficientStock
	}
	v.Stock -= quantity
	return nil
}

func (r *productRepo) IncrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error {
	defer r.s.lock()()

	v, err := r.variant(id, size, colorHex)
	if err != nil {
		return err
	}
	v.Stock += quantity
	return nil
}

func (r *productRepo) IncrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int, at time.Time) (*domain.LimitedOffer, error) {
	defer r.s.lock()()

	p, ok := r.s.d().products[id]
	if !ok {
		return nil, domain.ErrOfferCapExceeded
	}
	o := p.LimitedOffer
	if o == nil || !o.IsActive || at.Before(o.StartsAt) || at.After(o.EndsAt) || o.UnitsSold+quantity > o.MaxUnits {
		return nil, domain.ErrOfferCapExceeded
	}
	o.UnitsSold += quantity
	p.UpdatedAt = time.Now().UTC()

	snapshot := *o
	return &snapshot, nil
}

func (r *productRepo) DecrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int) error {
	defer r.s.lock()()

	p, ok := r.s.d().products[id]
	if !ok || p.LimitedOffer == nil {
		return nil
	}
	p.LimitedOffer.UnitsSold = max(p.LimitedOffer.UnitsSold-quantity, 0)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// variant must be called with the lock held
func (r *productRepo) variant(id uuid.UUID, size, colorHex string) (*domain.Variant, error) {
	p, ok := r.s.d().products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	v, ok := p.FindVariant(size, colorHex)
	if !ok {
		return nil, domain.ErrVariantNotFound
	}
	return v, nil
}

type orderRepo struct{ s *Store }

func idempotencyIndex(userID uuid.UUID, key string) string {
	return userID.String() + "|" + key
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	defer r.s.lock()()
	d := r.s.d()

	if order.IdempotencyKey != "" {
		k := idempotencyIndex(order.UserID, order.IdempotencyKey)
		if _, ok := d.idempotency[k]; ok {
			return repository.ErrDuplicateIdempotencyKey
		}
		d.idempotency[k] = order.ID
	}
	d.orders[order.ID] = order.Clone()
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	defer r.s.lock()()

	o, ok := r.s.d().orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error) {
	defer r.s.lock()()
	d := r.s.d()

	id, ok := d.idempotency[idempotencyIndex(userID, key)]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return d.orders[id].Clone(), nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*domain.Order, int, error) {
	defer r.s.lock()()

	var owned []*domain.Order
	for _, o := range r.s.d().orders {
		if o.UserID == userID {
			owned = append(owned, o)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID.String() < owned[j].ID.String()
	})

	orders := []*domain.Order{}
	for _, o := range paginate(owned, page, pageSize) {
		orders = append(orders, o.Clone())
	}
	return orders, len(owned), nil
}

func (r *orderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, owner *uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error) {
	defer r.s.lock()()

	o, ok := r.s.d().orders[id]
	if !ok || (owner != nil && o.UserID != *owner) {
		return nil, domain.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, domain.ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	o.Status = to
	o.UpdatedAt = now
	if to == domain.OrderStatusCancelled {
		o.CancelledAt = &now
	}
	return o.Clone(), nil
}

func (r *orderRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.Order, error) {
	defer r.s.lock()()

	o, ok := r.s.d().orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o.PaymentStatus = status
	o.UpdatedAt = time.Now().UTC()
	return o.Clone(), nil
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Insert(ctx context.Context, msg *repository.OutboxMessage) error {
	defer r.s.lock()()
	d := r.s.d()

	d.nextOutboxID++
	msg.ID = d.nextOutboxID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := *msg
	d.outbox = append(d.outbox, &stored)
	return nil
}

func (r *outboxRepo) ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]repository.OutboxMessage, error) {
	defer r.s.lock()()
	d := r.s.d()

	now := time.Now()
	var messages []repository.OutboxMessage
	for _, msg := range d.outbox {
		if len(messages) == limit {
			break
		}
		if d.sent[msg.ID] || msg.Attempts >= maxAttempts || now.Before(d.lockedUntil[msg.ID]) {
			continue
		}
		d.lockedUntil[msg.ID] = now.Add(lease)
		messages = append(messages, *msg)
	}
	return messages, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id int64) error {
	defer r.s.lock()()

	for _, msg := range r.s.d().outbox {
		if msg.ID == id {
			msg.Attempts++
			r.s.d().sent[id] = true
			delete(r.s.d().lockedUntil, id)
		}
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	defer r.s.lock()()

	for _, msg := range r.s.d().outbox {
		if msg.ID == id {
			msg.Attempts++
			r.s.d().lastErr[id] = reason
			delete(r.s.d().lockedUntil, id)
		}
	}
	return nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return nil
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
