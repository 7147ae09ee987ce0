// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like WEBHOOKS_BEARER_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 1️⃣ LOAD BASE CONFIG
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// 2️⃣ LOAD ENV CONFIG
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return build(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Load .env from the first location that has one
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("✅ Loaded .env from: %s\n", path)
				return
			}
		}
	}

	fmt.Printf("⚠️  .env file not found in any location, using system environment variables\n")
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// unset variables expand to "" so required-field checks still fire
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if secrets are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Webhooks.BearerToken == "" {
		if val := os.Getenv("LENDER_WEBHOOK_TOKEN"); val != "" {
			cfg.Webhooks.BearerToken = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}

	// Lender API keys: LENDER_<TYPE>_API_KEY
	for lenderType, lender := range cfg.Lenders {
		if lender.APIKey != "" {
			continue
		}
		envKey := fmt.Sprintf("LENDER_%s_API_KEY", strings.ToUpper(strings.ReplaceAll(lenderType, "-", "_")))
		if val := os.Getenv(envKey); val != "" {
			lender.APIKey = val
			cfg.Lenders[lenderType] = lender
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.AuditIndex == "" {
		cfg.Database.Elasticsearch.AuditIndex = "lender-events"
	}

	if cfg.Webhooks.DedupeTTL == 0 {
		cfg.Webhooks.DedupeTTL = 24 * 60 * 60 * 1000
	}
	if cfg.Webhooks.MaxBodySize == 0 {
		cfg.Webhooks.MaxBodySize = 1 << 20
	}

	if cfg.Submission.MaxDocuments == 0 {
		cfg.Submission.MaxDocuments = 10
	}
	if cfg.Submission.LenderTimeout == 0 {
		cfg.Submission.LenderTimeout = 30000
	}
	if cfg.Submission.UploadTimeout == 0 {
		cfg.Submission.UploadTimeout = 60000
	}
	if cfg.Submission.RegistryTTL == 0 {
		cfg.Submission.RegistryTTL = 5 * 60 * 1000
	}
	if cfg.Submission.RequestTimeout == 0 {
		cfg.Submission.RequestTimeout = 45000
	}

	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = 15 * 60 * 1000
	}
	if cfg.Polling.SweepInterval == 0 {
		cfg.Polling.SweepInterval = 60000
	}
	if cfg.Polling.BatchSize == 0 {
		cfg.Polling.BatchSize = 100
	}
	if cfg.Polling.MessageName == "" {
		cfg.Polling.MessageName = "lender-application-check"
	}
	if cfg.Polling.MessageTTL == 0 {
		cfg.Polling.MessageTTL = 10 * 60 * 1000
	}

	if cfg.Tasks.Workers == 0 {
		cfg.Tasks.Workers = 8
	}
	if cfg.Tasks.BufferSize == 0 {
		cfg.Tasks.BufferSize = 512
	}

	for key, lender := range cfg.Lenders {
		if lender.Timeout == 0 {
			lender.Timeout = cfg.Submission.LenderTimeout
		}
		cfg.Lenders[key] = lender
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "log/funding-engine.log"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Webhooks.BearerToken == "" {
		return fmt.Errorf("webhooks.bearer_token is required")
	}

	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.TopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.topic_arn is required when sns is enabled")
	}
	if cfg.Integrations.AWS.SES.Enabled && (cfg.Integrations.AWS.SES.FromEmail == "" || cfg.Integrations.AWS.SES.OpsEmail == "") {
		return fmt.Errorf("integrations.aws.ses.from_email and ops_email are required when ses is enabled")
	}

	for lenderType, lender := range cfg.Lenders {
		if lender.Enabled && lender.BaseURL == "" && lenderType != "sandbox" {
			return fmt.Errorf("lenders.%s.base_url is required", lenderType)
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}

// EnabledLenders returns the lender integrations switched on in config.
func EnabledLenders(cfg *Config) map[string]LenderConfig {
	return EnabledLendersFrom(cfg.Lenders)
}

// EnabledLendersFrom filters a lender map to the enabled entries.
func EnabledLendersFrom(lenders map[string]LenderConfig) map[string]LenderConfig {
	out := make(map[string]LenderConfig, len(lenders))
	for lenderType, lender := range lenders {
		if lender.Enabled {
			out[lenderType] = lender
		}
	}
	return out
}
