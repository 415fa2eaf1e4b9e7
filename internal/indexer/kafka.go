package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client the writer needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaWriter publishes apply/remove decisions for the indexer to consume.
// Records are keyed by URI so decisions for one record stay ordered.
type KafkaWriter struct {
	producer Producer
	topic    string
	clock    clock.Clock
}

// KafkaOption configures a KafkaWriter.
type KafkaOption func(*KafkaWriter)

// WithKafkaClock sets the clock used to stamp decisions.
func WithKafkaClock(clk clock.Clock) KafkaOption {
	return func(w *KafkaWriter) {
		if clk != nil {
			w.clock = clk
		}
	}
}

func NewKafkaWriter(producer Producer, topic string, opts ...KafkaOption) (*KafkaWriter, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &KafkaWriter{producer: producer, topic: topic, clock: clock.New()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ApplyRecord publishes a decision to index cid as the current version of uri.
func (w *KafkaWriter) ApplyRecord(ctx context.Context, uri, cid string, value json.RawMessage) error {
	return w.publish(ctx, Decision{Op: OpApply, URI: uri, CID: cid, Value: value})
}

// RemoveRecord publishes a decision to drop uri from the index.
func (w *KafkaWriter) RemoveRecord(ctx context.Context, uri string) error {
	return w.publish(ctx, Decision{Op: OpRemove, URI: uri})
}

func (w *KafkaWriter) publish(ctx context.Context, d Decision) error {
	d.DecidedAt = w.clock.Now().UTC()
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode %s decision: %w", d.Op, err)
	}
	rec := &kgo.Record{
		Topic: w.topic,
		Key:   []byte(d.URI),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "op", Value: []byte(d.Op)},
		},
	}
	if err := w.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish %s decision: %w", d.Op, err)
	}
	return nil
}
