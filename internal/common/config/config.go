package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Queue         QueueConfig        `mapstructure:"queue"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Security      SecurityConfig     `mapstructure:"security"`
	Synthesis     SynthesisConfig    `mapstructure:"synthesis"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Knowledge     KnowledgeConfig    `mapstructure:"knowledge"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds ingress HTTP settings.
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	BodyLimit      int    `mapstructure:"body_limit"`    // bytes
	ReadTimeout    int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout   int    `mapstructure:"write_timeout"` // milliseconds
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Millisecond
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds Redis Streams job queue settings.
type QueueConfig struct {
	Stream            string `mapstructure:"stream"`
	Group             string `mapstructure:"group"`
	VisibilityTimeout int    `mapstructure:"visibility_timeout"` // milliseconds
	BlockTimeout      int    `mapstructure:"block_timeout"`      // milliseconds
}

func (q QueueConfig) GetVisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeout) * time.Millisecond
}

func (q QueueConfig) GetBlockTimeout() time.Duration {
	return time.Duration(q.BlockTimeout) * time.Millisecond
}

// PipelineConfig holds worker pool and per-job deadline settings.
// Timeouts cascade: provider < context deadline < job deadline < queue
// visibility timeout.
type PipelineConfig struct {
	Workers         int `mapstructure:"workers"`
	JobTimeout      int `mapstructure:"job_timeout"`      // milliseconds
	ContextDeadline int `mapstructure:"context_deadline"` // milliseconds
	ProviderTimeout int `mapstructure:"provider_timeout"` // milliseconds
	HistoryLimit    int `mapstructure:"history_limit"`
	DispatchRetries int `mapstructure:"dispatch_retries"`
}

func (p PipelineConfig) GetJobTimeout() time.Duration {
	return time.Duration(p.JobTimeout) * time.Millisecond
}

func (p PipelineConfig) GetContextDeadline() time.Duration {
	return time.Duration(p.ContextDeadline) * time.Millisecond
}

func (p PipelineConfig) GetProviderTimeout() time.Duration {
	return time.Duration(p.ProviderTimeout) * time.Millisecond
}

// SecurityConfig holds webhook signature and credential encryption settings.
type SecurityConfig struct {
	EncryptionKey   string `mapstructure:"encryption_key"`   // hex, 32 bytes
	SignatureWindow int    `mapstructure:"signature_window"` // milliseconds
	ClockSkew       int    `mapstructure:"clock_skew"`       // milliseconds
}

func (s SecurityConfig) GetSignatureWindow() time.Duration {
	return time.Duration(s.SignatureWindow) * time.Millisecond
}

func (s SecurityConfig) GetClockSkew() time.Duration {
	return time.Duration(s.ClockSkew) * time.Millisecond
}

// SynthesisConfig holds settings for the language-model gateway.
type SynthesisConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

func (s SynthesisConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

// MonitoringConfig holds settings for the monitoring context provider.
type MonitoringConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

func (m MonitoringConfig) GetTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Millisecond
}

// KnowledgeConfig holds settings for the knowledge-base context provider.
type KnowledgeConfig struct {
	Index      string `mapstructure:"index"`
	MaxResults int    `mapstructure:"max_results"`
}

// NotificationConfig holds settings for operator alerting on failed jobs.
type NotificationConfig struct {
	Email struct {
		Enabled       bool   `mapstructure:"enabled"`
		FromEmail     string `mapstructure:"from_email"`
		OperatorEmail string `mapstructure:"operator_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
