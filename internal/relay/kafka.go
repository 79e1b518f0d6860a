package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kycops/internal/registry/models"
)

// Producer publishes one keyed record. Satisfied by kafka.Producer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
}

// Kafka publishes each application as a keyed event so downstream consumers
// see one partition per application id.
type Kafka struct {
	producer Producer
	clock    func() time.Time
}

func NewKafka(p Producer) *Kafka {
	return &Kafka{producer: p, clock: time.Now}
}

func (k *Kafka) Forward(ctx context.Context, rec *models.Record) error {
	value, err := json.Marshal(Envelope{Event: EventSubmitted, ForwardedAt: k.clock().UTC(), Application: rec})
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	return k.producer.Produce(ctx, []byte(rec.ID), value, map[string]string{
		"event":  EventSubmitted,
		"status": string(rec.Status),
	})
}
