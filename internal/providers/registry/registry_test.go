package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/providers"
)

func TestSelect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		name    string
		cfg     providers.Config
		env     string
		want    string
		wantErr bool
	}{
		{name: "demo when unconfigured", env: "development", want: "demo"},
		{name: "no fallback in production", env: "production", wantErr: true},
		{name: "explicit demo", cfg: providers.Config{Vendor: "demo"}, env: "production", want: "demo"},
		{name: "topupng by credentials", cfg: providers.Config{TopUpNGBaseURL: "http://x", TopUpNGAPIKey: "k"}, env: "production", want: "topupng"},
		{name: "datahub by name", cfg: providers.Config{Vendor: "DataHub", DataHubBaseURL: "http://x", DataHubToken: "t"}, want: "datahub"},
		{name: "named vendor missing credentials", cfg: providers.Config{Vendor: "topupng"}, wantErr: true},
		{name: "unknown vendor", cfg: providers.Config{Vendor: "acme"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			monitor := providers.NewMonitor()
			gw, err := Select(tc.cfg, tc.env, monitor, logger)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, gw.Name())
			require.Len(t, monitor.Status(), 1)
		})
	}
}
