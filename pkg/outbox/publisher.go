package outbox

import (
	"context"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/farmshop-orders-go/pkg/kafka"
)

// Publisher drains pending outbox records into Kafka. Records are marked
// sent only after the broker acks, so delivery is at-least-once and
// consumers dedup by event_id.
type Publisher struct {
	Pool     *pgxpool.Pool
	Writer   *kafkago.Writer
	Interval time.Duration
	Batch    int
}

func (p *Publisher) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	batch := p.Batch
	if batch <= 0 {
		batch = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.flush(ctx, batch); err != nil {
				log.Printf("outbox flush error: %v", err)
			}
		}
	}
}

func (p *Publisher) flush(ctx context.Context, batch int) error {
	pending, err := FetchPending(ctx, p.Pool, batch)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		if err := kafka.Publish(ctx, p.Writer, rec.Key, rec.Payload); err != nil {
			return err
		}
		if err := MarkSent(ctx, p.Pool, rec.ID); err != nil {
			return err
		}
	}
	return nil
}
