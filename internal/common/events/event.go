package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	PublishBatch(ctx context.Context, events []*Event) error
}

// Discard drops every event. Used when no broker is configured.
type Discard struct{}

func (Discard) Publish(ctx context.Context, event *Event) error         { return nil }
func (Discard) PublishBatch(ctx context.Context, events []*Event) error { return nil }

// Aggregate types
const (
	AggregateAccount     = "account"
	AggregateTransaction = "transaction"
)

// Event types
const (
	EventAccountCreated = "account.created"

	EventTransactionSettled = "transaction.settled"

	EventWalletFunded           = "wallet.funded"
	EventWalletFundingRequested = "wallet.funding.requested"
	EventWalletFundingApproved  = "wallet.funding.approved"
	EventWalletFundingDeclined  = "wallet.funding.declined"
	EventWalletAdjusted         = "wallet.adjusted"
)

// Event data structures

// TransactionSettledData is the data for transaction.settled events
type TransactionSettledData struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Type          string          `json:"type"`
	Provider      string          `json:"provider"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Profit        decimal.Decimal `json:"profit"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// WalletFundingData is the data for wallet.funded, wallet.funding.* and
// wallet.adjusted events
type WalletFundingData struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// AccountCreatedData is the data for account.created events
type AccountCreatedData struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}
