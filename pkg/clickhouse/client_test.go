package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

func TestBuildOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch.internal"),
		WithPort(8123),
		WithDatabase("storyrisk"),
		WithCredentials("writer", "secret"),
		WithHTTP(true),
		WithTimeouts(2*time.Second, 3*time.Second),
		WithMaxExecutionTime(1500 * time.Millisecond),
	} {
		opt(cfg)
	}

	o, err := buildOptions(cfg)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if len(o.Addr) != 1 || o.Addr[0] != "ch.internal:8123" {
		t.Fatalf("unexpected addr %v", o.Addr)
	}
	if o.Protocol != ch.HTTP {
		t.Fatalf("expected HTTP protocol")
	}
	if o.Auth.Database != "storyrisk" || o.Auth.Username != "writer" || o.Auth.Password != "secret" {
		t.Fatalf("unexpected auth %+v", o.Auth)
	}
	if o.DialTimeout != 2*time.Second || o.ReadTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts %v %v", o.DialTimeout, o.ReadTimeout)
	}
	if o.Settings["max_execution_time"] != 2 {
		t.Fatalf("max_execution_time = %v, want 2", o.Settings["max_execution_time"])
	}
}

func TestBuildOptionsRejectsMissingHost(t *testing.T) {
	cfg := defaultConfig()
	if _, err := buildOptions(cfg); err == nil {
		t.Fatalf("expected error without host")
	}
	cfg.Host = "localhost"
	cfg.Port = 0
	if _, err := buildOptions(cfg); err == nil {
		t.Fatalf("expected error for port 0")
	}
	cfg.Port = 9000
	o, err := buildOptions(cfg)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if o.Protocol != ch.Native {
		t.Fatalf("native protocol expected by default")
	}
	if _, ok := o.Settings["max_execution_time"]; ok {
		t.Fatalf("max_execution_time should be unset")
	}
}
