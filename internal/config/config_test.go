package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://u:p@db:5432/inbox")
	t.Setenv("TEST_VERIFY", "topsecret")

	path := writeConfig(t, `
server:
  addr: ":9000"
database:
  url: ${TEST_DB_URL}
webhook:
  verify_token: ${TEST_VERIFY}
vendor:
  send_timeout: 3s
dispatcher:
  poll_interval: 50ms
  vendor_qps: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, "postgres://u:p@db:5432/inbox", cfg.Database.URL)
	require.Equal(t, "topsecret", cfg.Webhook.VerifyToken)
	require.Equal(t, 3*time.Second, cfg.Vendor.SendTimeout)
	require.Equal(t, 50*time.Millisecond, cfg.Dispatcher.PollInterval)
	require.Equal(t, float64(5), cfg.Dispatcher.VendorQPS)
	// Unset fields keep their defaults.
	require.Equal(t, 10, cfg.Dispatcher.BatchSize)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NotEmpty(t, cfg.Server.Addr)
	require.Positive(t, cfg.Dispatcher.Concurrency)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
vendor:
  send_timeout: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing duration")
}

func TestValidateRejectsMissingServerAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	require.Error(t, cfg.Validate())
}
