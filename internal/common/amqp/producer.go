// Package amqp publishes JSON messages to RabbitMQ topic exchanges.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ configuration
type Config struct {
	URL      string `envconfig:"AMQP_URL"`
	Exchange string `envconfig:"AMQP_EXCHANGE" default:"vtu.notifications"`
}

// Publisher publishes a JSON body to exchange with routingKey.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// Producer holds one connection and a channel that is reopened on failure.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	logger   *slog.Logger
	declared map[string]bool
}

// SanitizeURL trims stray quoting and checks the scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parsing amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

// NewProducer dials RabbitMQ with a bounded timeout
func NewProducer(rawURL string, logger *slog.Logger) (*Producer, error) {
	cleanURL, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	logger.Info("rabbitmq connection established")
	return &Producer{conn: conn, channel: ch, logger: logger, declared: make(map[string]bool)}, nil
}

// Publish declares exchange as a durable topic exchange on first use and
// publishes body as persistent JSON. A failed publish reopens the channel once.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed, reopening channel",
		"exchange", exchange,
		"routing_key", routingKey,
		"error", err,
	)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("reopening channel: %w", chErr)
	}
	p.channel = ch
	p.declared = make(map[string]bool)

	return p.publishLocked(ctx, exchange, routingKey, payload)
}

func (p *Producer) publishLocked(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange: %w", err)
		}
		p.declared[exchange] = true
	}

	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

// Close closes the channel and connection
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
