// Package settlement debits wallets for airtime, data and bill purchases
// after the vendor has confirmed fulfillment.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/observability"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
	"vtuplatform/internal/notify"
	"vtuplatform/internal/pricing"
	"vtuplatform/internal/providers"
)

// Store is the storage the engine needs.
type Store interface {
	ledger.AccountStore
	ledger.UnitOfWork
	ledger.CatalogStore
}

// Locker serializes work per key across the funds check, vendor call and debit.
type Locker = ledger.Locker

// Notifier accepts best-effort notifications without blocking.
type Notifier interface {
	Notify(msg notify.Message) bool
	Publish(evt *events.Event) bool
}

// Config holds engine settings
type Config struct {
	VendorTimeout time.Duration `envconfig:"VENDOR_CALL_TIMEOUT" default:"15s"`
}

// Engine orchestrates purchases. It holds no state of its own.
type Engine struct {
	store    Store
	pricing  pricing.Source
	gateway  providers.Gateway
	locker   Locker
	notifier Notifier
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewEngine creates a settlement engine.
func NewEngine(cfg Config, store Store, prices pricing.Source, gateway providers.Gateway, locker Locker, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.VendorTimeout <= 0 {
		cfg.VendorTimeout = 15 * time.Second
	}
	return &Engine{
		store:    store,
		pricing:  prices,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		tracer:   observability.Tracer("vtuplatform/settlement"),
		logger:   logger,
		timeout:  cfg.VendorTimeout,
		now:      time.Now,
	}
}

// AirtimeRequest buys airtime of a face value for a phone number.
type AirtimeRequest struct {
	Network string          `json:"network" validate:"required"`
	Phone   string          `json:"phone" validate:"required,min=7,max=20"`
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	PIN     string          `json:"pin" validate:"required,len=4,numeric"`
}

// DataRequest buys a data bundle from the catalog.
type DataRequest struct {
	BundleID string `json:"bundle_id" validate:"required"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
	PIN      string `json:"pin" validate:"required,len=4,numeric"`
}

// CableRequest pays a cable subscription for a verified smartcard.
type CableRequest struct {
	BundleID     string `json:"bundle_id" validate:"required"`
	SmartCard    string `json:"smart_card" validate:"required,max=32"`
	CustomerName string `json:"customer_name" validate:"max=255"`
	PIN          string `json:"pin" validate:"required,len=4,numeric"`
}

// ElectricityRequest buys prepaid units for a verified meter.
type ElectricityRequest struct {
	Disco        string          `json:"disco" validate:"required,max=32"`
	MeterNumber  string          `json:"meter_number" validate:"required,max=32"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0"`
	CustomerName string          `json:"customer_name" validate:"max=255"`
	PIN          string          `json:"pin" validate:"required,len=4,numeric"`
}

// purchase is one settlement, fully described before any money moves.
type purchase struct {
	product      domain.Product
	provider     string
	destination  string
	planName     string
	customerName string
	fulfil       func(ctx context.Context, reference string) (*providers.Result, error)
}

// BuyAirtime settles an airtime purchase.
func (e *Engine) BuyAirtime(ctx context.Context, accountID string, req AirtimeRequest) (*domain.Transaction, error) {
	network, err := domain.ParseNetwork(req.Network)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	return e.settle(ctx, accountID, req.PIN, purchase{
		product:     domain.AirtimeProduct(req.Amount),
		provider:    string(network),
		destination: req.Phone,
		fulfil: func(ctx context.Context, ref string) (*providers.Result, error) {
			return e.gateway.BuyAirtime(ctx, providers.AirtimeOrder{
				Network:   network,
				Phone:     req.Phone,
				Amount:    req.Amount,
				Reference: ref,
			})
		},
	})
}

// BuyData settles a data bundle purchase and records the bundle volume
// against the account's data usage.
func (e *Engine) BuyData(ctx context.Context, accountID string, req DataRequest) (*domain.Transaction, error) {
	bundle, err := e.bundle(ctx, req.BundleID, domain.BundleData)
	if err != nil {
		return nil, err
	}
	network, err := domain.ParseNetwork(bundle.Provider)
	if err != nil {
		return nil, err
	}

	return e.settle(ctx, accountID, req.PIN, purchase{
		product:     domain.DataProduct(bundle),
		provider:    string(network),
		destination: req.Phone,
		planName:    bundle.Name,
		fulfil: func(ctx context.Context, ref string) (*providers.Result, error) {
			return e.gateway.BuyData(ctx, providers.DataOrder{
				Network:   network,
				Phone:     req.Phone,
				PlanID:    bundle.PlanID,
				Reference: ref,
			})
		},
	})
}

// PayCable settles a cable subscription.
func (e *Engine) PayCable(ctx context.Context, accountID string, req CableRequest) (*domain.Transaction, error) {
	bundle, err := e.bundle(ctx, req.BundleID, domain.BundleCable)
	if err != nil {
		return nil, err
	}

	return e.settle(ctx, accountID, req.PIN, purchase{
		product:      domain.CableProduct(bundle),
		provider:     strings.ToUpper(bundle.Provider),
		destination:  req.SmartCard,
		planName:     bundle.Name,
		customerName: req.CustomerName,
		fulfil: func(ctx context.Context, ref string) (*providers.Result, error) {
			return e.gateway.PayBill(ctx, providers.BillOrder{
				Kind:      providers.BillCable,
				Provider:  bundle.Provider,
				Customer:  req.SmartCard,
				PlanID:    bundle.PlanID,
				Amount:    bundle.Price,
				Reference: ref,
			})
		},
	})
}

// PayElectricity settles a prepaid electricity purchase. The transaction
// carries the meter token.
func (e *Engine) PayElectricity(ctx context.Context, accountID string, req ElectricityRequest) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	return e.settle(ctx, accountID, req.PIN, purchase{
		product:      domain.ElectricityProduct(req.Amount),
		provider:     strings.ToUpper(req.Disco),
		destination:  req.MeterNumber,
		customerName: req.CustomerName,
		fulfil: func(ctx context.Context, ref string) (*providers.Result, error) {
			return e.gateway.PayBill(ctx, providers.BillOrder{
				Kind:      providers.BillElectricity,
				Provider:  req.Disco,
				Customer:  req.MeterNumber,
				Amount:    req.Amount,
				Reference: ref,
			})
		},
	})
}

func (e *Engine) bundle(ctx context.Context, id string, kind domain.BundleKind) (*domain.Bundle, error) {
	b, err := e.store.GetBundle(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Kind != kind || !b.Active {
		return nil, domain.ErrBundleNotFound
	}
	if b.PlanID == "" {
		return nil, domain.ErrMissingPlanID
	}
	return b, nil
}

func (e *Engine) settle(ctx context.Context, accountID, pin string, p purchase) (txn *domain.Transaction, err error) {
	txType := p.product.Type
	start := e.now()

	ctx, span := e.tracer.Start(ctx, "settlement."+strings.ToLower(string(txType)),
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.String("product.provider", p.provider),
		))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		e.metrics.ObserveSettlement(string(txType), outcome, e.now().Sub(start))
	}()

	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := acct.VerifyPIN(pin); err != nil {
		return nil, err
	}

	cfg, err := e.pricing.Pricing(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pricing: %w", err)
	}
	quote, err := pricing.Price(cfg, p.product, acct.Role)
	if err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, ledger.AccountLockKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("locking account: %w", err)
	}
	defer unlock()

	// Re-read under the lock so the funds check sees every earlier debit.
	acct, err = e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := acct.CanAfford(quote.Gross); err != nil {
		return nil, err
	}

	txn, err = domain.NewTransaction(acct.ID, txType, domain.StatusSuccess, quote.Gross, e.now())
	if err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	result, err := e.callVendor(ctx, txn.Reference, p.fulfil)
	if err != nil {
		e.metrics.IncrVendorError(e.gateway.Name())
		e.logger.Warn("vendor fulfillment failed",
			"account_id", accountID,
			"type", txType,
			"reference", txn.Reference,
			"error", err,
		)
		return nil, err
	}

	txn.Provider = p.provider
	txn.Destination = p.destination
	txn.PlanName = p.planName
	txn.CustomerName = p.customerName
	txn.Fee = quote.Fee
	txn.CostPrice = quote.Cost
	txn.Profit = quote.Profit
	txn.VendorReference = result.Reference
	if b := p.product.Bundle; b != nil {
		txn.ExpiresAt = domain.ExpiryFrom(b.Validity, txn.CreatedAt)
	}
	if txType == domain.TypeElectricity {
		txn.Token = meterToken(result.Token)
	}

	err = e.store.WithinAccount(ctx, accountID, func(tx ledger.Tx) error {
		prev, next, err := tx.AdjustBalance(ctx, accountID, quote.Gross.Neg())
		if err != nil {
			return err
		}
		txn.PreviousBalance = prev
		txn.NewBalance = next

		if txType == domain.TypeData {
			if gb, ok := domain.ParseDataVolumeGB(p.product.Bundle.DataVolume); ok {
				if err := tx.AdjustDataUsage(ctx, accountID, gb); err != nil {
					return err
				}
			}
		}

		return tx.Append(ctx, txn)
	})
	if err != nil {
		// The vendor has delivered but the wallet was not debited.
		e.logger.Error("debit failed after vendor fulfillment",
			"account_id", accountID,
			"type", txType,
			"reference", txn.Reference,
			"vendor_reference", txn.VendorReference,
			"amount", quote.Gross.StringFixed(2),
			"error", err,
		)
		return nil, fmt.Errorf("recording settlement: %w: %v", domain.ErrSettlementNotRecorded, err)
	}

	acct.Balance = txn.NewBalance
	e.notifier.Notify(notify.PurchaseMessage(acct, txn))
	e.publishSettled(ctx, txn)

	e.logger.Info("settlement completed",
		"account_id", accountID,
		"type", txType,
		"reference", txn.Reference,
		"gross", quote.Gross.StringFixed(2),
		"profit", quote.Profit.StringFixed(2),
	)

	return txn, nil
}

func (e *Engine) callVendor(ctx context.Context, ref string, fulfil func(context.Context, string) (*providers.Result, error)) (*providers.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := fulfil(ctx, ref)
	if err == nil {
		if result == nil {
			result = &providers.Result{}
		}
		return result, nil
	}

	var vendorErr *domain.VendorError
	if errors.As(err, &vendorErr) || errors.Is(err, domain.ErrUnknownNetwork) {
		return nil, err
	}
	reason := "vendor request failed"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "vendor timeout"
	}
	return nil, &domain.VendorError{Vendor: e.gateway.Name(), Reason: reason, Err: err}
}

func (e *Engine) publishSettled(ctx context.Context, txn *domain.Transaction) {
	evt, err := events.NewEvent(events.EventTransactionSettled, events.AggregateTransaction, txn.ID, events.TransactionSettledData{
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		Type:          string(txn.Type),
		Provider:      txn.Provider,
		Reference:     txn.Reference,
		Amount:        txn.Amount,
		Profit:        txn.Profit,
		NewBalance:    txn.NewBalance,
	})
	if err != nil {
		e.logger.Error("failed to build event", "reference", txn.Reference, "error", err)
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.WithCorrelation(sc.TraceID().String(), txn.Reference)
	}
	e.notifier.Publish(evt)
}

// meterToken prefers the vendor's token and synthesizes one otherwise.
func meterToken(vendorToken string) string {
	if t, ok := domain.FormatMeterToken(vendorToken); ok {
		return t
	}
	return domain.NewMeterToken()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrSettlementNotRecorded):
		return "not_recorded"
	case errors.Is(err, domain.ErrPinNotSet), errors.Is(err, domain.ErrPinMismatch):
		return "unauthorized"
	case domain.IsInsufficientFunds(err):
		return "insufficient_funds"
	case domain.IsVendorError(err):
		return "vendor_error"
	case errors.Is(err, domain.ErrMissingPlanID), errors.Is(err, domain.ErrBundleNotFound):
		return "invalid_product"
	}
	return "error"
}
