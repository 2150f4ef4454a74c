package repository

import (
	"context"
	"errors"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/repository"
	pkgkafka "StoryRisk/pkg/kafka"
)

// KafkaEventPublisher writes story events to a topic keyed by story id, so
// the events of one story stay ordered.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishStoryEvent(ctx context.Context, ev models.StoryEvent) error {
	var key []byte
	if ev.Story != nil {
		key = []byte(ev.Story.ID)
	}
	return p.producer.Publish(ctx, p.topic, key, ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher struct {
	pubs []repository.EventPublisher
}

// NewMultiPublisher ignores nil publishers.
func NewMultiPublisher(pubs ...repository.EventPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range pubs {
		if p != nil {
			m.pubs = append(m.pubs, p)
		}
	}
	return m
}

func (m *MultiPublisher) PublishStoryEvent(ctx context.Context, ev models.StoryEvent) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.PublishStoryEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) PublishStoryEvent(context.Context, models.StoryEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
