package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/resilience"
	"vtuplatform/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingSink holds every Send until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	sent    []Message
}

func (s *blockingSink) Send(ctx context.Context, msg Message) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, evts []*events.Event) error {
	for _, e := range evts {
		_ = p.Publish(ctx, e)
	}
	return nil
}

func TestNotifyNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{QueueSize: 2, Workers: 1}, sink, nil, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	start := time.Now()
	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Notify(Message{AccountID: "a1", Body: "hi"}) {
			accepted++
		}
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, accepted, 2)
	assert.Less(t, accepted, 10)

	close(sink.release)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, accepted, sink.count())
}

func TestDispatcherPublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(Config{QueueSize: 4, Workers: 2}, LogSink{Logger: testLogger()}, pub, testLogger(), nil)

	evt, err := events.NewEvent(events.EventTransactionSettled, events.AggregateTransaction, "t1", nil)
	require.NoError(t, err)
	require.True(t, d.Publish(evt))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	require.Len(t, pub.events, 1)
	assert.Equal(t, evt.ID, pub.events[0].ID)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	args := m.Called(exchange, routingKey, body)
	return args.Error(0)
}

func (m *mockPublisher) Close() {}

func TestAMQPSinkRetries(t *testing.T) {
	pub := &mockPublisher{}
	msg := Message{AccountID: "a1", Channel: ChannelSMS, Body: "hello"}
	pub.On("Publish", "vtu.notifications", "notify.sms", msg).Return(errors.New("channel closed")).Once()
	pub.On("Publish", "vtu.notifications", "notify.sms", msg).Return(nil).Once()

	sink := NewAMQPSink(pub, "vtu.notifications", resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond})
	require.NoError(t, sink.Send(context.Background(), msg))
	pub.AssertExpectations(t)
}

func TestPurchaseMessage(t *testing.T) {
	acct := &domain.Account{ID: "a1", Phone: "08030000000"}
	txn := &domain.Transaction{
		Type:        domain.TypeElectricity,
		Amount:      decimal.NewFromInt(5000),
		Destination: "45012345678",
		Token:       "1234-5678-9012-3456",
		Reference:   "ELE-01",
		NewBalance:  decimal.RequireFromString("1010.5"),
	}

	msg := PurchaseMessage(acct, txn)
	assert.Equal(t, ChannelSMS, msg.Channel)
	assert.Equal(t, "08030000000", msg.Phone)
	assert.Equal(t, "Electricity purchase of ₦5,000.00 for 45012345678 was successful. Token: 1234-5678-9012-3456. Ref: ELE-01. Balance: ₦1,010.50", msg.Body)
}

func TestFundingMessage(t *testing.T) {
	acct := &domain.Account{ID: "a1"}
	txn := &domain.Transaction{Amount: decimal.NewFromInt(2000), Reference: "FND-1", Status: domain.StatusFailed, FailureReason: "blurry receipt"}
	assert.Equal(t, "Your funding request of ₦2,000.00 was declined. Ref: FND-1. Reason: blurry receipt", FundingMessage(acct, txn).Body)

	txn.Status = domain.StatusPending
	assert.Contains(t, FundingMessage(acct, txn).Body, "awaiting review")
}
