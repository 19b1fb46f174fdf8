package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ledgerflow LedgerflowConfig `yaml:"ledgerflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Source     SourceConfig     `yaml:"source"`
	Parser     ParserConfig     `yaml:"parser"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Storage    StorageConfig    `yaml:"storage"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LedgerflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer    int `yaml:"raw_buffer"`
	RecordBuffer int `yaml:"record_buffer"`
}

// ParserConfig carries the business-policy values of the email parsing core.
// The default currency fallback and the whitelist used for ambiguous-currency
// detection encode policy, not algorithm, so they live in configuration.
type ParserConfig struct {
	DefaultCurrency string   `yaml:"default_currency"`
	KnownCurrencies []string `yaml:"known_currencies"`
	Platform        string   `yaml:"platform"`
}

type PipelineConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type LedgerConfig struct {
	// Backend selects the dedup ledger implementation: "memory" or "file".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SourceConfig struct {
	Mailbox MailboxSourceConfig `yaml:"mailbox"`
	Stream  StreamSourceConfig  `yaml:"stream"`
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type MailboxSourceConfig struct {
	Enabled           bool                 `yaml:"enabled"`
	URL               string               `yaml:"url"`
	Token             string               `yaml:"token"`
	PollInterval      time.Duration        `yaml:"poll_interval"`
	Window            time.Duration        `yaml:"window"`
	Timeout           time.Duration        `yaml:"timeout"`
	RequestsPerSecond int                  `yaml:"requests_per_second"`
	BurstSize         int                  `yaml:"burst_size"`
	LocalIP           string               `yaml:"local_ip"`
	ConnectionPool    ConnectionPoolConfig `yaml:"connection_pool"`
}

type StreamSourceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ReadBufferBytes   int           `yaml:"read_buffer_bytes"`
}

type BinanceSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	APIKey         string               `yaml:"api_key"`
	APISecret      string               `yaml:"api_secret"`
	PollInterval   time.Duration        `yaml:"poll_interval"`
	Window         time.Duration        `yaml:"window"`
	Timeout        time.Duration        `yaml:"timeout"`
	LocalIP        string               `yaml:"local_ip"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type BybitSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	APIKey         string               `yaml:"api_key"`
	APISecret      string               `yaml:"api_secret"`
	PollInterval   time.Duration        `yaml:"poll_interval"`
	Window         time.Duration        `yaml:"window"`
	Timeout        time.Duration        `yaml:"timeout"`
	LocalIP        string               `yaml:"local_ip"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	ReportPrefix    string        `yaml:"report_prefix"`
	ArchivePrefix   string        `yaml:"archive_prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NotifyConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DigestInterval time.Duration `yaml:"digest_interval"`
	Customer       string        `yaml:"customer"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(ResolveConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Credentials come from the environment when present
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Source.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		config.Source.Binance.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		config.Source.Bybit.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		config.Source.Bybit.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("MAILBOX_TOKEN"); v != "" {
		config.Source.Mailbox.Token = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Parser.DefaultCurrency == "" {
		cfg.Parser.DefaultCurrency = "USDT"
	}
	if len(cfg.Parser.KnownCurrencies) == 0 {
		cfg.Parser.KnownCurrencies = []string{"USDT", "BTC", "ETH", "BNB", "BUSD"}
	}
	if cfg.Pipeline.MaxWorkers < 1 {
		cfg.Pipeline.MaxWorkers = 1
	}
	if cfg.Pipeline.BatchSize < 1 {
		cfg.Pipeline.BatchSize = 50
	}
	if cfg.Pipeline.BatchTimeout <= 0 {
		cfg.Pipeline.BatchTimeout = 5 * time.Second
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "memory"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Ledgerflow.Name == "" {
		return fmt.Errorf("ledgerflow.name is required")
	}
	if cfg.Ledgerflow.Version == "" {
		return fmt.Errorf("ledgerflow.version is required")
	}
	if cfg.Channels.RawBuffer < 1 {
		return fmt.Errorf("channels.raw_buffer must be positive")
	}
	if cfg.Channels.RecordBuffer < 1 {
		return fmt.Errorf("channels.record_buffer must be positive")
	}
	switch cfg.Ledger.Backend {
	case "memory":
	case "file":
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend '%s'", cfg.Ledger.Backend)
	}
	if cfg.Source.Mailbox.Enabled && cfg.Source.Mailbox.URL == "" {
		return fmt.Errorf("source.mailbox.url is required when mailbox source is enabled")
	}
	if cfg.Source.Stream.Enabled && cfg.Source.Stream.URL == "" {
		return fmt.Errorf("source.stream.url is required when stream source is enabled")
	}
	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 storage is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 storage is enabled")
		}
	}
	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka storage is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka storage is enabled")
		}
	}
	return nil
}
