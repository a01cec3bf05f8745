package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestcrm/telemetryd/internal/config"
)

func TestProvideUsingDefault(t *testing.T) {
	require := require.New(t)

	cfg := config.Provide(config.Default())

	require.Equal("https://telemetry.harvestcrm.dev/usage/v1/telemetry", cfg.Report.Endpoint)
	require.Equal(45*time.Second, cfg.Report.Timeout)
	require.False(cfg.Report.Disabled)
	require.Equal("localhost:7233", cfg.Temporal.HostPort)
}

func TestProvideUsingEnv(t *testing.T) {
	os.Setenv("TELEMETRYD_REPORT__ENDPOINT", "https://telemetry.example.org/v1")
	os.Setenv("TELEMETRYD_PLATFORM__SITE_URL", "https://crm.example.org")
	defer os.Unsetenv("TELEMETRYD_REPORT__ENDPOINT")
	defer os.Unsetenv("TELEMETRYD_PLATFORM__SITE_URL")

	require := require.New(t)

	cfg := config.Provide(config.Default())

	require.Equal("https://telemetry.example.org/v1", cfg.Report.Endpoint)
	require.Equal("https://crm.example.org", cfg.Platform.SiteURL)
	require.Equal(":8080", cfg.HTTPAddr)
}
