package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/repository"
	"storefront/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	failKey  string
}

func (p *recordingPublisher) Publish(ctx context.Context, msgs ...Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if m.Key == p.failKey {
			return errors.New("broker unavailable")
		}
		p.messages = append(p.messages, m)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func enqueue(t *testing.T, store *memstore.Store, eventID, key string) {
	t.Helper()
	err := store.Outbox().Insert(context.Background(), &repository.OutboxMessage{
		EventID: eventID,
		Topic:   "orders.events",
		Key:     key,
		Payload: []byte(`{"type":"order.created"}`),
	})
	require.NoError(t, err)
}

func TestDispatchOnce(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{failKey: "order-b"}
	relay := NewRelay(store, pub, RelayConfig{BatchSize: 10, MaxAttempts: 2}, zap.NewNop())

	enqueue(t, store, "evt-1", "order-a")
	enqueue(t, store, "evt-2", "order-b")
	enqueue(t, store, "evt-3", "order-a")

	sent, err := relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, store.Unsent())

	// the failed message is retried until it runs out of attempts
	sent, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 2, pub.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, RelayConfig{Interval: 5 * time.Millisecond}, zap.NewNop())
	enqueue(t, store, "evt-1", "order-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, msgs ...Message) error {
	p.entered <- struct{}{}
	<-p.release
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestDispatchOnce_SlowPublishDoesNotBlockWrites(t *testing.T) {
	store := memstore.New()
	pub := &blockingPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	relay := NewRelay(store, pub, RelayConfig{BatchSize: 10}, zap.NewNop())
	enqueue(t, store, "evt-1", "order-a")

	done := make(chan int, 1)
	go func() {
		sent, _ := relay.DispatchOnce(context.Background())
		done <- sent
	}()
	<-pub.entered

	// a checkout writes its event while the relay is mid-publish
	wrote := make(chan error, 1)
	go func() {
		wrote <- store.WithTx(context.Background(), func(tx repository.Store) error {
			return tx.Outbox().Insert(context.Background(), &repository.OutboxMessage{EventID: "evt-2", Topic: "orders.events", Key: "order-b"})
		})
	}()
	select {
	case err := <-wrote:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("store write blocked by an in-flight publish")
	}

	close(pub.release)
	assert.Equal(t, 1, <-done)
	assert.Equal(t, 1, store.Unsent())
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, ParseBrokers(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Empty(t, ParseBrokers(""))
}
