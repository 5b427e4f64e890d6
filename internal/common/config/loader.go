package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from ./configs/config.yaml, an environment-specific
// overlay, and environment variables (PIPELINE_DATABASE_POSTGRES_HOST style).
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // overlay is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env in the working directory and at the module root so
// the binary behaves the same when run from cmd/ during development.
func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

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

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "enhancement-pipeline"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}
	if cfg.Server.BodyLimit == 0 {
		cfg.Server.BodyLimit = 64 * 1024
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10000
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 20
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "enhancement:jobs"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "enhancement-workers"
	}
	if cfg.Queue.BlockTimeout == 0 {
		cfg.Queue.BlockTimeout = 5000
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.JobTimeout == 0 {
		cfg.Pipeline.JobTimeout = 60000
	}
	if cfg.Pipeline.ContextDeadline == 0 {
		cfg.Pipeline.ContextDeadline = 8000
	}
	if cfg.Pipeline.ProviderTimeout == 0 {
		cfg.Pipeline.ProviderTimeout = 3000
	}
	if cfg.Pipeline.HistoryLimit == 0 {
		cfg.Pipeline.HistoryLimit = 5
	}
	if cfg.Pipeline.DispatchRetries == 0 {
		cfg.Pipeline.DispatchRetries = 3
	}
	// Visibility timeout must exceed the job deadline or a slow job gets
	// redelivered while still running.
	if cfg.Queue.VisibilityTimeout == 0 {
		cfg.Queue.VisibilityTimeout = 2 * cfg.Pipeline.JobTimeout
	}
	if cfg.Security.SignatureWindow == 0 {
		cfg.Security.SignatureWindow = 300000 // five minutes
	}
	if cfg.Security.ClockSkew == 0 {
		cfg.Security.ClockSkew = 30000
	}
	if cfg.Synthesis.Timeout == 0 {
		cfg.Synthesis.Timeout = 30000
	}
	if cfg.Synthesis.MaxTokens == 0 {
		cfg.Synthesis.MaxTokens = 1024
	}
	if cfg.Monitoring.Timeout == 0 {
		cfg.Monitoring.Timeout = 3000
	}
	if cfg.Knowledge.Index == "" {
		cfg.Knowledge.Index = "knowledge-base"
	}
	if cfg.Knowledge.MaxResults == 0 {
		cfg.Knowledge.MaxResults = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required")
	}
	if cfg.Synthesis.BaseURL == "" {
		return fmt.Errorf("synthesis.base_url is required")
	}
	if cfg.Pipeline.ProviderTimeout >= cfg.Pipeline.ContextDeadline {
		return fmt.Errorf("pipeline.provider_timeout must be below pipeline.context_deadline")
	}
	if cfg.Pipeline.ContextDeadline >= cfg.Pipeline.JobTimeout {
		return fmt.Errorf("pipeline.context_deadline must be below pipeline.job_timeout")
	}
	if cfg.Queue.VisibilityTimeout <= cfg.Pipeline.JobTimeout {
		return fmt.Errorf("queue.visibility_timeout must exceed pipeline.job_timeout")
	}
	return nil
}
