package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/common/money"
)

// Setting keys under the pricing prefix.
const (
	SettingsPrefix = "pricing."

	KeyAirtimeFee        = SettingsPrefix + "airtime_fee"
	KeyDataFee           = SettingsPrefix + "data_fee"
	KeyCableFee          = SettingsPrefix + "cable_fee"
	KeyElectricityFee    = SettingsPrefix + "electricity_fee"
	KeyAirtimeCostPct    = SettingsPrefix + "airtime_cost_pct"
	KeyAirtimeSellingPct = SettingsPrefix + "airtime_selling_pct"
)

// SettingsReader reads key/value settings sharing a prefix.
type SettingsReader interface {
	Settings(ctx context.Context, prefix string) (map[string]string, error)
}

// SettingsSource loads pricing from the settings store, overriding defaults
// key by key, and caches the result for ttl.
type SettingsSource struct {
	reader   SettingsReader
	defaults Config
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   *Config
	loadedAt time.Time
}

// NewSettingsSource creates a cached settings-backed pricing source
func NewSettingsSource(reader SettingsReader, defaults Config, ttl time.Duration, logger *slog.Logger) *SettingsSource {
	return &SettingsSource{
		reader:   reader,
		defaults: defaults,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Pricing implements Source. A stale cached config is served when the
// settings store is unavailable.
func (s *SettingsSource) Pricing(ctx context.Context) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.loadedAt) < s.ttl {
		return *s.cached, nil
	}

	cfg, err := s.load(ctx)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("serving stale pricing config", "error", err)
			return *s.cached, nil
		}
		return Config{}, err
	}

	s.cached = &cfg
	s.loadedAt = s.now()
	return cfg, nil
}

func (s *SettingsSource) load(ctx context.Context) (Config, error) {
	values, err := s.reader.Settings(ctx, SettingsPrefix)
	if err != nil {
		return Config{}, fmt.Errorf("reading pricing settings: %w", err)
	}

	cfg := s.defaults
	fields := map[string]*decimal.Decimal{
		KeyAirtimeFee:        &cfg.AirtimeFee,
		KeyDataFee:           &cfg.DataFee,
		KeyCableFee:          &cfg.CableFee,
		KeyElectricityFee:    &cfg.ElectricityFee,
		KeyAirtimeCostPct:    &cfg.AirtimeCostPct,
		KeyAirtimeSellingPct: &cfg.AirtimeSellingPct,
	}
	for key, dst := range fields {
		raw, ok := values[key]
		if !ok || raw == "" {
			continue
		}
		v, err := money.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing setting %s: %w", key, err)
		}
		*dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
