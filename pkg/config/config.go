package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Store struct {
		Type string `yaml:"type" default:"sqlite"` // sqlite, clickhouse or memory
	} `yaml:"store"`
	SQLite struct {
		Path string `yaml:"path" default:"data/storyrisk.db"`
	} `yaml:"sqlite"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"storyrisk"`
		Table            string        `yaml:"table" default:"stories"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Predictor struct {
		Type             string        `yaml:"type" default:"process"` // process or http
		PythonPath       string        `yaml:"python_path" default:"python"`
		ScriptPath       string        `yaml:"script_path" default:"models/risk/predict.py"`
		URL              string        `yaml:"url"`
		Timeout          time.Duration `yaml:"timeout"` // 0 = no limit
		DefaultInfluence float64       `yaml:"default_influence" default:"0.3"`
		Cache            struct {
			Enabled bool          `yaml:"enabled"`
			TTL     time.Duration `yaml:"ttl" default:"10m"`
			Size    int           `yaml:"size" default:"1000"`
		} `yaml:"cache"`
	} `yaml:"predictor"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"storyrisk"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers"`
		EventsTopic   string   `yaml:"events_topic" default:"storyrisk.story-events"`
		RequestsTopic string   `yaml:"requests_topic" default:"storyrisk.estimation-requests"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"gzip"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID       string        `yaml:"group_id" default:"storyrisk"`
			Workers       int           `yaml:"workers" default:"2"`
			BufferSize    int           `yaml:"buffer_size" default:"16"`
			RetryMax      int           `yaml:"retry_max" default:"3"`
			BackoffMin    time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax    time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic      string        `yaml:"dlq_topic"`
			MinBytes      int           `yaml:"min_bytes" default:"1"`
			MaxBytes      int           `yaml:"max_bytes" default:"10000000"`
			SlowThreshold time.Duration `yaml:"slow_threshold" default:"2s"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		KeyPrefix  string        `yaml:"key_prefix" default:"storyrisk:queue"`
	} `yaml:"queue"`
	RateLimit struct {
		Enabled      bool    `yaml:"enabled" default:"true"`
		Capacity     float64 `yaml:"capacity" default:"20"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
	} `yaml:"ratelimit"`
	Stream struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		BufferSize   int           `yaml:"buffer_size" default:"32"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"stream"`
	Backfill struct {
		Schedule string `yaml:"schedule"` // 5-field cron, empty disables the sweep
		Timezone string `yaml:"timezone" default:"UTC"`
	} `yaml:"backfill"`
}

// Load reads and parses a YAML configuration file and fills defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	// Defaults first so explicit zero values in the file survive.
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Default returns a configuration built from defaults only.
func Default() *Config {
	c, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment lookup getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("PREDICTOR_TYPE"); v != "" {
		c.Predictor.Type = v
	}
	if v := getenv("PREDICTOR_URL"); v != "" {
		c.Predictor.URL = v
	}
	if v := getenv("PREDICTOR_SCRIPT"); v != "" {
		c.Predictor.ScriptPath = v
	}
	if v := getenv("PYTHON_PATH"); v != "" {
		c.Predictor.PythonPath = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
		c.Redis.Enabled = true
	}
	if v := getenv("BACKFILL_SCHEDULE"); v != "" {
		c.Backfill.Schedule = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Store.Type {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for store.type 'sqlite'")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for store.type 'clickhouse'")
		}
	case "memory":
	default:
		return fmt.Errorf("store.type must be 'sqlite', 'clickhouse' or 'memory', got '%s'", c.Store.Type)
	}
	switch c.Predictor.Type {
	case "process":
		if c.Predictor.ScriptPath == "" {
			return fmt.Errorf("predictor.script_path is required for predictor.type 'process'")
		}
	case "http":
		if c.Predictor.URL == "" {
			return fmt.Errorf("predictor.url is required for predictor.type 'http'")
		}
	default:
		return fmt.Errorf("predictor.type must be 'process' or 'http', got '%s'", c.Predictor.Type)
	}
	if c.Predictor.Timeout < 0 {
		return fmt.Errorf("predictor.timeout cannot be negative")
	}
	if c.Predictor.DefaultInfluence < 0 || c.Predictor.DefaultInfluence > 1 {
		return fmt.Errorf("predictor.default_influence must be within [0,1]")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity < 1 || c.RateLimit.RefillPerSec <= 0) {
		return fmt.Errorf("ratelimit.capacity must be >= 1 and ratelimit.refill_per_sec > 0")
	}
	return nil
}
