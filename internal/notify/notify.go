// Package notify delivers user notifications and domain events off the
// request path. Enqueueing never blocks; a full queue drops the item.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vtuplatform/internal/common/amqp"
	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/money"
	"vtuplatform/internal/common/observability"
	"vtuplatform/internal/common/resilience"
	"vtuplatform/internal/domain"
)

// Config holds dispatcher configuration
type Config struct {
	QueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	Workers     int           `envconfig:"NOTIFY_WORKERS" default:"2"`
	SendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"10s"`
}

// Channel is a delivery channel
type Channel string

const (
	ChannelSMS  Channel = "SMS"
	ChannelPush Channel = "PUSH"
)

// Message is a notification for one account holder
type Message struct {
	AccountID string  `json:"account_id"`
	Phone     string  `json:"phone"`
	Channel   Channel `json:"channel"`
	Body      string  `json:"body"`
	Reference string  `json:"reference,omitempty"`
}

// Sink delivers a message to its channel.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// LogSink writes messages to the log.
type LogSink struct {
	Logger *slog.Logger
}

// Send implements Sink
func (s LogSink) Send(ctx context.Context, msg Message) error {
	s.Logger.Info("notification",
		"account_id", msg.AccountID,
		"channel", msg.Channel,
		"reference", msg.Reference,
		"body", msg.Body,
	)
	return nil
}

// AMQPSink publishes messages to a RabbitMQ topic exchange routed by channel,
// for example notify.sms.
type AMQPSink struct {
	publisher amqp.Publisher
	exchange  string
	retry     resilience.Config
}

// NewAMQPSink creates a RabbitMQ-backed sink
func NewAMQPSink(publisher amqp.Publisher, exchange string, retry resilience.Config) *AMQPSink {
	return &AMQPSink{publisher: publisher, exchange: exchange, retry: retry}
}

// Send implements Sink
func (s *AMQPSink) Send(ctx context.Context, msg Message) error {
	routingKey := "notify." + strings.ToLower(string(msg.Channel))
	return resilience.RetryWithBackoff(ctx, s.retry, func() error {
		return s.publisher.Publish(ctx, s.exchange, routingKey, msg)
	})
}

type job struct {
	msg   *Message
	event *events.Event
}

// Dispatcher fans messages and events out to a bounded worker pool.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	publisher events.EventPublisher
	queue     chan job
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewDispatcher creates a dispatcher. Call Run to start delivery.
func NewDispatcher(cfg Config, sink Sink, publisher events.EventPublisher, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Dispatcher{
		cfg:       cfg,
		sink:      sink,
		publisher: publisher,
		queue:     make(chan job, cfg.QueueSize),
		logger:    logger,
		metrics:   metrics,
	}
}

// Notify enqueues msg and reports whether it was accepted.
func (d *Dispatcher) Notify(msg Message) bool {
	return d.enqueue(job{msg: &msg})
}

// Publish enqueues a domain event and reports whether it was accepted.
func (d *Dispatcher) Publish(evt *events.Event) bool {
	return d.enqueue(job{event: evt})
}

func (d *Dispatcher) enqueue(j job) bool {
	select {
	case d.queue <- j:
		return true
	default:
		if j.msg != nil {
			d.metrics.IncrNotificationDropped()
			d.logger.Warn("notification queue full, dropping message",
				"account_id", j.msg.AccountID,
				"reference", j.msg.Reference,
			)
		} else {
			d.metrics.IncrEventDropped()
			d.logger.Warn("notification queue full, dropping event",
				"event_id", j.event.ID,
				"type", j.event.Type,
			)
		}
		return false
	}
}

// Run delivers queued items until ctx is cancelled, then drains what is
// already queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.deliver(j)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if j.msg != nil {
		if err := d.sink.Send(ctx, *j.msg); err != nil {
			d.metrics.IncrNotificationDropped()
			d.logger.Error("failed to deliver notification",
				"account_id", j.msg.AccountID,
				"reference", j.msg.Reference,
				"error", err,
			)
		}
		return
	}

	if err := d.publisher.Publish(ctx, j.event); err != nil {
		d.metrics.IncrEventDropped()
		d.logger.Error("failed to publish event",
			"event_id", j.event.ID,
			"type", j.event.Type,
			"error", err,
		)
	}
}

// PurchaseMessage builds the receipt sent after a successful purchase.
func PurchaseMessage(acct *domain.Account, txn *domain.Transaction) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s purchase of %s", titleCase(string(txn.Type)), money.Format(txn.Amount))
	if txn.PlanName != "" {
		fmt.Fprintf(&b, " (%s)", txn.PlanName)
	}
	fmt.Fprintf(&b, " for %s was successful.", txn.Destination)
	if txn.Token != "" {
		fmt.Fprintf(&b, " Token: %s.", txn.Token)
	}
	fmt.Fprintf(&b, " Ref: %s. Balance: %s", txn.Reference, money.Format(txn.NewBalance))

	return Message{
		AccountID: acct.ID,
		Phone:     acct.Phone,
		Channel:   ChannelSMS,
		Body:      b.String(),
		Reference: txn.Reference,
	}
}

// FundingMessage builds the notice sent when a wallet credit resolves.
func FundingMessage(acct *domain.Account, txn *domain.Transaction) Message {
	var body string
	switch {
	case txn.Type == domain.TypeAdjustment:
		verb := "credited"
		if txn.Destination == "DEBIT" {
			verb = "debited"
		}
		body = fmt.Sprintf("Your wallet was %s with %s by an administrator. Ref: %s. Balance: %s",
			verb, money.Format(txn.Amount), txn.Reference, money.Format(txn.NewBalance))
	case txn.Status == domain.StatusSuccess:
		body = fmt.Sprintf("Your wallet was credited with %s. Ref: %s. Balance: %s",
			money.Format(txn.Amount), txn.Reference, money.Format(txn.NewBalance))
	case txn.Status == domain.StatusFailed:
		body = fmt.Sprintf("Your funding request of %s was declined. Ref: %s", money.Format(txn.Amount), txn.Reference)
		if txn.FailureReason != "" {
			body += ". Reason: " + txn.FailureReason
		}
	default:
		body = fmt.Sprintf("Your funding request of %s is awaiting review. Ref: %s", money.Format(txn.Amount), txn.Reference)
	}

	return Message{
		AccountID: acct.ID,
		Phone:     acct.Phone,
		Channel:   ChannelPush,
		Body:      body,
		Reference: txn.Reference,
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
