// Package relay forwards accepted messages between server instances so that
// subscribers connected to another instance see them too.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
)

const originHeader = "origin"

// Broadcaster receives messages relayed from other instances.
type Broadcaster interface {
	Broadcast(msg model.Message) bool
}

type Config struct {
	Brokers    []string
	Topic      string
	InstanceID string
}

// Kafka publishes every local message to a topic and feeds messages from
// other instances into the local registry. Each instance reads the whole
// topic through its own consumer group.
type Kafka struct {
	cfg    Config
	writer *kafka.Writer
	reader *kafka.Reader
	log    zerolog.Logger
}

func NewKafka(cfg Config, log zerolog.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "lytecord-relay-" + cfg.InstanceID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})

	return &Kafka{
		cfg:    cfg,
		writer: writer,
		reader: reader,
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// Publish sends msg to the other instances. Messages of one channel share a
// partition so they keep their order.
func (k *Kafka) Publish(ctx context.Context, msg model.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %d: %w", msg.ID, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(fmt.Sprint(msg.ChannelID)),
		Value:   value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: originHeader, Value: []byte(k.cfg.InstanceID)}},
	})
	if err != nil {
		return fmt.Errorf("publish message %d: %w", msg.ID, err)
	}
	metrics.RelayEvents.WithLabelValues("out").Inc()
	return nil
}

// Run consumes the topic until ctx is done, handing every foreign message to
// b.
func (k *Kafka) Run(ctx context.Context, b Broadcaster) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			k.log.Warn().Err(err).Msg("error reading message, retrying in 1s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if origin(m) == k.cfg.InstanceID {
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			k.log.Warn().Err(err).Msg("failed to unmarshal relayed message")
			continue
		}
		metrics.RelayEvents.WithLabelValues("in").Inc()

		if b.Broadcast(msg) {
			k.log.Debug().Int64("message_id", msg.ID).Int64("channel_id", msg.ChannelID).Msg("relayed message delivered")
		}
	}
}

func (k *Kafka) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

func origin(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == originHeader {
			return string(h.Value)
		}
	}
	return ""
}
