// Package kafka publishes domain events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"storefront/internal/notify"
	"storefront/pkg/logkey"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics every event type is published on.
var Topics = []string{
	notify.Topic(notify.OrderCreated),
	notify.Topic(notify.OrderStatusChanged),
	notify.Topic(notify.OrderPaid),
	notify.Topic(notify.PaymentFailed),
	notify.Topic(notify.RefundProcessed),
	notify.Topic(notify.ReviewRequested),
}

const (
	HeaderEventType = "event-type"
	HeaderTraceID   = "trace-id"
)

type Conf struct {
	client *kgo.Client
}

func NewConf(brokers []string, clientID string) (*Conf, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.AllowAutoTopicCreation(),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Conf{client: client}, nil
}

// EnsureTopics creates any missing event topics. Topics that already exist
// are left as they are.
func (k *Conf) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, Topics...)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	var errs []error
	for _, t := range resp {
		if t.Err == nil {
			slog.Info("kafka topic created", slog.String("Topic", t.Topic))
			continue
		}
		if !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", t.Topic, t.Err))
		}
	}
	return errors.Join(errs...)
}

func (k *Conf) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

// ProduceMessage writes one record and waits for the broker to acknowledge it.
func (k *Conf) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers ...kgo.RecordHeader) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value, Headers: headers}
	return k.client.ProduceSync(ctx, rec).FirstErr()
}

// Publish implements notify.Publisher.
func (k *Conf) Publish(ctx context.Context, e notify.Event) error {
	rec, err := Record(e)
	if err != nil {
		return err
	}
	if err := k.ProduceMessage(ctx, rec.Topic, rec.Key, rec.Value, rec.Headers...); err != nil {
		slog.Error("failed to produce event", slog.String(logkey.TraceID, e.TraceID),
			slog.String("Topic", rec.Topic), slog.String(logkey.ERROR, err.Error()))
		return fmt.Errorf("produce %s: %w", e.Type, err)
	}
	return nil
}

// Record encodes an event as the Kafka record it is published as.
func Record(e notify.Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	rec := &kgo.Record{
		Topic: notify.Topic(e.Type),
		Key:   []byte(e.Key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(e.Type)},
		},
	}
	if e.TraceID != "" {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: HeaderTraceID, Value: []byte(e.TraceID)})
	}
	return rec, nil
}

func (k *Conf) Close() {
	k.client.Close()
}
