package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(w *fakeWriter) (*Producer, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg := defaultProducerConfig()
	cfg.Registerer = reg
	return newProducer(w, cfg), reg
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p, reg := newTestProducer(w)

	ctx := WithTraceID(context.Background(), "req-7")
	if err := p.Publish(ctx, "story-events", []byte("s1"), map[string]string{"type": "story.created"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != "story-events" || string(m.Key) != "s1" || string(m.Value) != `{"type":"story.created"}` {
		t.Fatalf("unexpected message %+v", m)
	}
	if ExtractTraceID(m) != "req-7" {
		t.Fatalf("trace id not propagated: %v", m.Headers)
	}
	if got := testutil.ToFloat64(p.metrics.msgs.WithLabelValues("story-events", "gzip", "ok")); got != 1 {
		t.Fatalf("ok counter = %v", got)
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), "story-events", nil, "raw"); !errors.Is(err, w.err) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if got := testutil.ToFloat64(p.metrics.msgs.WithLabelValues("story-events", "gzip", "error")); got != 1 {
		t.Fatalf("error counter = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "storyrisk_kafka_producer_messages_total"); err != nil || n != 2 {
		t.Fatalf("series = %d, %v", n, err)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestProducerConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ProducerOption
		wantErr bool
	}{
		{"no brokers", nil, true},
		{"unknown compression", []ProducerOption{WithBrokers([]string{"k:9092"}), WithCompression("brotli")}, true},
		{"bad acks", []ProducerOption{WithBrokers([]string{"k:9092"}), WithRequiredAcks(2)}, true},
		{"ok", []ProducerOption{WithBrokers([]string{"k:9092"}), WithCompression("none"), WithHashByKey(true)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultProducerConfig()
			for _, o := range tt.opts {
				o(cfg)
			}
			w, err := cfg.writer()
			if (err != nil) != tt.wantErr {
				t.Fatalf("writer error = %v, wantErr %v", err, tt.wantErr)
			}
			if w != nil {
				if _, ok := w.Balancer.(*kafka.Hash); !ok {
					t.Fatalf("expected hash balancer")
				}
			}
		})
	}
}
