// Package registry selects the active vendor gateway from configuration.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vtuplatform/internal/providers"
	"vtuplatform/internal/providers/datahub"
	"vtuplatform/internal/providers/demo"
	"vtuplatform/internal/providers/topupng"
)

// ErrNoVendor is returned in production when no vendor is configured.
var ErrNoVendor = errors.New("no vendor credentials configured")

// Select builds the configured gateway wrapped with monitor. The demo
// gateway is used when asked for by name, or when nothing is configured
// outside production.
func Select(cfg providers.Config, environment string, monitor *providers.Monitor, logger *slog.Logger) (providers.Gateway, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Vendor))
	if name == "" {
		switch {
		case cfg.TopUpNGAPIKey != "":
			name = topupng.Name
		case cfg.DataHubToken != "":
			name = datahub.Name
		case environment == "production":
			return nil, ErrNoVendor
		default:
			name = demo.Name
		}
	}

	var gw providers.Gateway
	mode := "live"
	switch name {
	case demo.Name:
		if environment == "production" {
			logger.Warn("demo vendor enabled in production")
		}
		gw = demo.New(cfg.DemoDelay, cfg.DemoFailureRate, logger)
		mode = "demo"
	case topupng.Name:
		if cfg.TopUpNGBaseURL == "" || cfg.TopUpNGAPIKey == "" {
			return nil, fmt.Errorf("vendor %s: %w", name, ErrNoVendor)
		}
		gw = topupng.NewAdapter(cfg.TopUpNGBaseURL, cfg.TopUpNGAPIKey, cfg.Timeout, logger)
	case datahub.Name:
		if cfg.DataHubBaseURL == "" || cfg.DataHubToken == "" {
			return nil, fmt.Errorf("vendor %s: %w", name, ErrNoVendor)
		}
		gw = datahub.NewAdapter(cfg.DataHubBaseURL, cfg.DataHubToken, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown vendor %q", cfg.Vendor)
	}

	monitor.Register(gw.Name(), mode)
	logger.Info("vendor gateway selected", "vendor", gw.Name(), "mode", mode)

	return providers.Monitored(gw, monitor), nil
}
