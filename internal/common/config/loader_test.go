// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: funding-engine
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    port: 5432
    database: funding
    user: engine
  redis:
    address: localhost:6379
webhooks:
  bearer_token: ${TEST_WEBHOOK_TOKEN}
lenders:
  sandbox:
    enabled: true
  staged-credit:
    enabled: true
    base_url: https://staged.example.com
workers:
  poll-lender-application:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "s3cret")
	t.Setenv("LENDER_STAGED_CREDIT_API_KEY", "staged-key")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Webhooks.BearerToken)
	assert.Equal(t, "staged-key", cfg.Lenders["staged-credit"].APIKey)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10, cfg.Submission.MaxDocuments)
	assert.Equal(t, 30000, cfg.Submission.LenderTimeout)
	assert.Equal(t, 30000, cfg.Lenders["sandbox"].Timeout)
	assert.Equal(t, "lender-application-check", cfg.Polling.MessageName)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)

	worker := GetWorkerConfig(cfg, "poll-lender-application")
	assert.True(t, worker.Enabled)
	assert.Equal(t, 5, worker.MaxJobsActive)
	assert.Equal(t, 3, worker.MaxRetries)
}

func TestLoadFromFile_MissingWebhookTokenFailsClosed(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "")
	t.Setenv("LENDER_WEBHOOK_TOKEN", "")

	_, err := LoadFromFile(writeConfig(t, baseYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhooks.bearer_token is required")
}

func TestLoadFromFile_WebhookTokenFromEnvFallback(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "")
	t.Setenv("LENDER_WEBHOOK_TOKEN", "from-env")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Webhooks.BearerToken)
}

func TestValidateConfig_LenderWithoutBaseURL(t *testing.T) {
	cfg := &Config{
		Webhooks: WebhookConfig{BearerToken: "t"},
		Camunda:  CamundaConfig{BrokerAddress: "zeebe:26500"},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Host: "db", Database: "funding", User: "u"},
			Redis:    RedisConfig{Address: "redis:6379"},
		},
		Lenders: map[string]LenderConfig{
			"direct-line": {Enabled: true},
		},
	}

	err := validateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lenders.direct-line.base_url")

	cfg.Lenders["direct-line"] = LenderConfig{Enabled: false}
	assert.NoError(t, validateConfig(cfg))
}

func TestEnabledLenders(t *testing.T) {
	cfg := &Config{Lenders: map[string]LenderConfig{
		"sandbox":     {Enabled: true},
		"direct-line": {Enabled: false},
	}}

	enabled := EnabledLenders(cfg)
	assert.Len(t, enabled, 1)
	assert.Contains(t, enabled, "sandbox")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
