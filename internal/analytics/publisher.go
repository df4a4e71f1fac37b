package analytics

import (
	"context"
	"log/slog"

	"github.com/voldyman/typesense/pkg/config"
	"github.com/voldyman/typesense/pkg/kafka"
)

// Publisher emits search and document-change events to Kafka. A nil
// Publisher (no brokers configured) silently drops events.
type Publisher struct {
	changes *kafka.Producer
	search  *kafka.Producer
	logger  *slog.Logger
}

// NewPublisher creates producers for the change and search topics, or nil
// when no brokers are configured.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	return &Publisher{
		changes: kafka.NewProducer(cfg, cfg.Topics.DocumentChanges),
		search:  kafka.NewProducer(cfg, cfg.Topics.SearchEvents),
		logger:  slog.Default().With("component", "analytics-publisher"),
	}
}

// PublishChange emits one committed document mutation.
func (p *Publisher) PublishChange(ctx context.Context, ev DocumentChangeEvent) {
	if p == nil {
		return
	}
	if err := p.changes.Publish(ctx, kafka.Event{Key: ev.Collection, Value: ev}); err != nil {
		p.logger.Error("failed to publish change event", "collection", ev.Collection, "error", err)
	}
}

// PublishSearch emits one executed search.
func (p *Publisher) PublishSearch(ctx context.Context, ev SearchEvent) {
	if p == nil {
		return
	}
	if err := p.search.Publish(ctx, kafka.Event{Key: ev.Collection, Value: ev}); err != nil {
		p.logger.Error("failed to publish search event", "collection", ev.Collection, "error", err)
	}
}

// Close flushes and closes the producers.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.changes.Close()
	p.search.Close()
}
