package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/common/events"
)

// stubJetStream embeds the interface so only Publish needs an implementation.
type stubJetStream struct {
	jetstream.JetStream
	subjects []string
	payloads [][]byte
	err      error
}

func (s *stubJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, data)
	return &jetstream.PubAck{Stream: "VTU_EVENTS"}, nil
}

func TestPublisherSubjects(t *testing.T) {
	js := &stubJetStream{}
	p := &Publisher{js: js, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	evt, err := events.NewEvent(events.EventTransactionSettled, events.AggregateTransaction, "t1", events.TransactionSettledData{TransactionID: "t1"})
	require.NoError(t, err)
	evt2, err := events.NewEvent(events.EventWalletFunded, events.AggregateAccount, "a1", events.WalletFundingData{AccountID: "a1"})
	require.NoError(t, err)

	require.NoError(t, p.PublishBatch(context.Background(), []*events.Event{evt, evt2}))
	assert.Equal(t, []string{"events.transaction.settled", "events.wallet.funded"}, js.subjects)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(js.payloads[0], &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
}

func TestPublisherError(t *testing.T) {
	js := &stubJetStream{err: errors.New("no responders")}
	p := &Publisher{js: js, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	evt, _ := events.NewEvent(events.EventWalletAdjusted, events.AggregateAccount, "a1", nil)
	assert.Error(t, p.Publish(context.Background(), evt))
}

func TestEventStreamConfig(t *testing.T) {
	cfg := EventStreamConfig()
	assert.Equal(t, "VTU_EVENTS", cfg.Name)
	assert.Equal(t, []string{"events.>"}, cfg.Subjects)
}
