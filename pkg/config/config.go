package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"AgentFlow/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level         string        `yaml:"level" default:"info"`
		Format        string        `yaml:"format" default:"json"`
		Output        string        `yaml:"output" default:"stdout"`
		Collect       bool          `yaml:"collect"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		FlushCount    int           `yaml:"flush_count" default:"100"`
	} `yaml:"logging"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		SignalsTopic   string   `yaml:"signals_topic" default:"signals.generated"`
		EventsTopic    string   `yaml:"events_topic" default:"executions.events"`
		ApprovalsTopic string   `yaml:"approvals_topic" default:"executions.approvals"`
		LogsTopic      string   `yaml:"logs_topic" default:"agentflow.logs"`
		RequiredAcks   int      `yaml:"required_acks" default:"-1"`
		Compression    string   `yaml:"compression" default:"snappy"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"agentflow-dispatcher"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		Prefix   string `yaml:"prefix" default:"agentflow"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"agentflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Storage struct {
		Execution string `yaml:"execution" default:"memory"`
		Catalog   string `yaml:"catalog" default:"memory"`
	} `yaml:"storage"`
	Queue struct {
		Type       string        `yaml:"type" default:"memory"`
		Capacity   int           `yaml:"capacity" default:"1024"`
		Shards     int           `yaml:"shards" default:"8"`
		RetryLimit int           `yaml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
	} `yaml:"queue"`
	Dispatcher struct {
		BatchWindow    time.Duration `yaml:"batch_window" default:"300ms"`
		MaxBatchWait   time.Duration `yaml:"max_batch_wait" default:"1s"`
		DedupKey       string        `yaml:"dedup_key" default:"symbol"`
		SignalDedupTTL time.Duration `yaml:"signal_dedup_ttl" default:"10m"`
	} `yaml:"dispatcher"`
	Engine struct {
		MaxConcurrent           int           `yaml:"max_concurrent" default:"32"`
		ApprovalChannels        []string      `yaml:"approval_channels"`
		DeactivateAfterFailures int           `yaml:"deactivate_after_failures"`
		RecoveryOnStart         bool          `yaml:"recovery_on_start" default:"true"`
		LeaseTTL                time.Duration `yaml:"lease_ttl" default:"5m"`
		NodeTimeout             time.Duration `yaml:"node_timeout" default:"2m"`
		SweepInterval           time.Duration `yaml:"sweep_interval" default:"1m"`
	} `yaml:"engine"`
	Monitor struct {
		PollInterval time.Duration `yaml:"poll_interval" default:"30s"`
		RetryMax     int           `yaml:"retry_max" default:"3"`
		BackoffMin   time.Duration `yaml:"backoff_min" default:"500ms"`
		BackoffMax   time.Duration `yaml:"backoff_max" default:"10s"`
		ErrorDelay   time.Duration `yaml:"error_delay" default:"2m"`
	} `yaml:"monitor"`
	Registry struct {
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"30s"`
		StaleAfter      time.Duration `yaml:"stale_after" default:"24h"`
	} `yaml:"registry"`
	Scheduler struct {
		Enabled bool          `yaml:"enabled" default:"true"`
		Tick    time.Duration `yaml:"tick" default:"30s"`
	} `yaml:"scheduler"`
	Agents struct {
		ServiceURL string        `yaml:"service_url"`
		Timeout    time.Duration `yaml:"timeout" default:"60s"`
		MaxRetries int           `yaml:"max_retries" default:"2"`
	} `yaml:"agents"`
	Broker struct {
		LiveURL string        `yaml:"live_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout" default:"15s"`
	} `yaml:"broker"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxRPS         float64       `yaml:"max_rps" default:"20"`
		Burst          int           `yaml:"burst" default:"40"`
	} `yaml:"feed"`
}

// Default returns a configuration with every default applied, the in-memory stack.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("KAFKA_SIGNALS_TOPIC"); v != "" {
		c.Kafka.SignalsTopic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Execution = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("ENGINE_MAX_CONCURRENT"); v != "" {
		c.Engine.MaxConcurrent = util.ParseIntDefault(v, c.Engine.MaxConcurrent)
	}
	if v := getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Execution {
	case "memory":
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("storage.execution=clickhouse requires clickhouse.enabled")
		}
	default:
		return fmt.Errorf("storage.execution must be 'memory' or 'clickhouse', got '%s'", c.Storage.Execution)
	}
	switch c.Storage.Catalog {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("storage.catalog=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("storage.catalog must be 'memory' or 'redis', got '%s'", c.Storage.Catalog)
	}
	switch c.Queue.Type {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("queue.type=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("queue.type must be 'memory' or 'redis', got '%s'", c.Queue.Type)
	}
	if c.Queue.Capacity <= 0 || c.Queue.Shards <= 0 {
		return fmt.Errorf("queue.capacity and queue.shards must be positive")
	}
	if c.Dispatcher.BatchWindow < 0 {
		return fmt.Errorf("dispatcher.batch_window cannot be negative")
	}
	if c.Dispatcher.MaxBatchWait < c.Dispatcher.BatchWindow {
		return fmt.Errorf("dispatcher.max_batch_wait cannot be shorter than dispatcher.batch_window")
	}
	if c.Dispatcher.DedupKey != "symbol" && c.Dispatcher.DedupKey != "symbol_timeframe" {
		return fmt.Errorf("dispatcher.dedup_key must be 'symbol' or 'symbol_timeframe', got '%s'", c.Dispatcher.DedupKey)
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be positive")
	}
	if c.Engine.LeaseTTL <= c.Engine.NodeTimeout {
		return fmt.Errorf("engine.lease_ttl must be longer than engine.node_timeout")
	}
	if c.Engine.DeactivateAfterFailures < 0 {
		return fmt.Errorf("engine.deactivate_after_failures cannot be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed.websocket_url is required when feed is enabled")
	}
	return nil
}
