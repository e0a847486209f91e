package dispatch

import (
	"context"
	"encoding/json"

	"github.com/example/rideshare/internal/models"
	"github.com/segmentio/kafka-go"
)

// Envelope is the wire form of an event on the booking topic.
type Envelope struct {
	Event    models.Event    `json:"event"`
	Audience models.Audience `json:"audience"`
}

// KafkaPublisher streams booking events, keyed by ride so a ride's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Notify(ctx context.Context, ev models.Event, to models.Audience) error {
	b, err := json.Marshal(Envelope{Event: ev, Audience: to})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
