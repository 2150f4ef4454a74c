package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", c.Server.Port)
	}
	if c.Store.Type != "sqlite" || c.Predictor.Type != "process" {
		t.Fatalf("unexpected defaults: store=%s predictor=%s", c.Store.Type, c.Predictor.Type)
	}
	if c.Predictor.DefaultInfluence != 0.3 {
		t.Fatalf("default influence = %v", c.Predictor.DefaultInfluence)
	}
	if c.Predictor.Timeout != 0 {
		t.Fatalf("predictor timeout should default to none, got %s", c.Predictor.Timeout)
	}
	if c.Kafka.Consumer.BackoffMax != 5*time.Second {
		t.Fatalf("backoff max = %s", c.Kafka.Consumer.BackoffMax)
	}
}

func TestParseKeepsExplicitValues(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
server:
  cors: false
store:
  type: memory
predictor:
  type: http
  url: http://model:8000
  timeout: 30s
  default_influence: 0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.CORS {
		t.Fatalf("explicit cors=false was overwritten")
	}
	if c.Predictor.DefaultInfluence != 0 {
		t.Fatalf("explicit influence 0 was overwritten: %v", c.Predictor.DefaultInfluence)
	}
	if c.Predictor.Timeout != 30*time.Second {
		t.Fatalf("timeout = %s", c.Predictor.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown store", "store: {type: mongo}", "store.type"},
		{"http predictor without url", "predictor: {type: http}", "predictor.url"},
		{"unknown predictor", "predictor: {type: grpc}", "predictor.type"},
		{"influence out of range", "predictor: {default_influence: 1.5}", "default_influence"},
		{"kafka without brokers", "kafka: {enabled: true}", "kafka.brokers"},
		{"queue without redis", "queue: {enabled: true}", "queue.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{
		"STORE_TYPE":     "memory",
		"PREDICTOR_TYPE": "http",
		"PREDICTOR_URL":  "http://model:9000",
		"KAFKA_BROKERS":  "k1:9092,k2:9092",
		"REDIS_ADDR":     "cache:6380",
	}
	c.ApplyEnv(func(k string) string { return env[k] })

	if c.Store.Type != "memory" || c.Predictor.URL != "http://model:9000" {
		t.Fatalf("env not applied: %+v", c.Store)
	}
	if !c.Kafka.Enabled || len(c.Kafka.Brokers) != 2 {
		t.Fatalf("kafka brokers = %v enabled=%v", c.Kafka.Brokers, c.Kafka.Enabled)
	}
	if !c.Redis.Enabled || c.Redis.Host != "cache" || c.Redis.Port != 6380 {
		t.Fatalf("redis = %s:%d enabled=%v", c.Redis.Host, c.Redis.Port, c.Redis.Enabled)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadSampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("sample config not present")
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if c.Backfill.Schedule == "" {
		t.Fatalf("sample config should schedule the backfill sweep")
	}
}
