// Package consumer reads ledger events back off the event bus and forwards them to a sink.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/telemetry/domain"
)

const pushTimeout = 10 * time.Second

// Sink receives raw event payloads.
type Sink interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer drains one topic into a Sink.
type Consumer struct {
	reader messageReader
	sink   Sink
	log    logrus.FieldLogger
}

// NewKafkaConsumer returns a consumer for topic in consumer group groupID.
func NewKafkaConsumer(brokers []string, topic, groupID string, sink Sink, log logrus.FieldLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, sink, log)
}

func newConsumer(reader messageReader, sink Sink, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{reader: reader, sink: sink, log: log.WithField("component", "consumer")}
}

// Run reads until ctx is cancelled. Sink failures are logged and the message is skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("read failed")
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := c.sink.PushEventJSON(pushCtx, msg.Value); err != nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("sink push failed")
		}
		cancel()
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// LogSink writes events to a logger. Used when no Loki URL is configured.
type LogSink struct {
	Log logrus.FieldLogger
}

// PushEventJSON logs the event type, source and account. Unparseable payloads are logged raw.
func (s LogSink) PushEventJSON(_ context.Context, raw []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.Log.WithField("payload", string(raw)).Warn("unparseable event")
		return nil
	}
	s.Log.WithFields(logrus.Fields{
		"event_type": ev.Type,
		"source":     ev.Source,
		"account_id": ev.AccountID,
		"event_id":   ev.ID,
		"metadata":   ev.Metadata,
	}).Info("ledger event")
	return nil
}
