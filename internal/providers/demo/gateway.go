// Package demo provides a simulated vendor for development and staging.
package demo

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/providers"
)

// Name is the vendor name reported by the demo gateway
const Name = "demo"

// Gateway always fulfils orders after Delay, except for a random share of
// calls given by FailureRate which fail as transient vendor errors.
type Gateway struct {
	delay       time.Duration
	failureRate float64
	logger      *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a demo gateway
func New(delay time.Duration, failureRate float64, logger *slog.Logger) *Gateway {
	return &Gateway{
		delay:       delay,
		failureRate: failureRate,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the failure sequence deterministic.
func (g *Gateway) WithSeed(seed int64) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng = rand.New(rand.NewSource(seed))
	return g
}

// Name implements providers.Gateway
func (g *Gateway) Name() string { return Name }

// BuyAirtime implements providers.Gateway
func (g *Gateway) BuyAirtime(ctx context.Context, order providers.AirtimeOrder) (*providers.Result, error) {
	return g.fulfil(ctx, "airtime", order.Reference, "")
}

// BuyData implements providers.Gateway
func (g *Gateway) BuyData(ctx context.Context, order providers.DataOrder) (*providers.Result, error) {
	return g.fulfil(ctx, "data", order.Reference, "")
}

// PayBill implements providers.Gateway. Electricity orders receive a
// synthetic meter token.
func (g *Gateway) PayBill(ctx context.Context, order providers.BillOrder) (*providers.Result, error) {
	token := ""
	if order.Kind == providers.BillElectricity {
		token = domain.NewMeterToken()
	}
	return g.fulfil(ctx, string(order.Kind), order.Reference, token)
}

func (g *Gateway) fulfil(ctx context.Context, product, reference, token string) (*providers.Result, error) {
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &domain.VendorError{Vendor: Name, Reason: "vendor timeout", Err: ctx.Err()}
		case <-time.After(g.delay):
		}
	}

	if g.fail() {
		return nil, &domain.VendorError{Vendor: Name, Reason: "transient vendor error, please retry"}
	}

	ref := "DEMO-" + ulid.Make().String()
	g.logger.Info("demo vendor fulfilled order",
		"product", product,
		"reference", reference,
		"vendor_reference", ref,
	)

	return &providers.Result{Reference: ref, Token: token, Message: "demo transaction successful"}, nil
}

func (g *Gateway) fail() bool {
	if g.failureRate <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < g.failureRate
}
