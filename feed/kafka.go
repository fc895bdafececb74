package feed

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Kafka consumes JSON ticks, one or an array per message.
type Kafka struct {
	reader *kafka.Reader
	log    *zap.Logger
}

func NewKafka(cfg KafkaConfig, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	return &Kafka{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
		log: log,
	}
}

func (k *Kafka) Run(ctx context.Context, sink Sink) error {
	defer k.reader.Close()
	k.log.Info("kafka feed started", zap.String("topic", k.reader.Config().Topic))
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		k.handle(ctx, sink, m)
	}
}

// handle applies one message. Undecodable messages are skipped so one bad
// producer cannot stall the partition.
func (k *Kafka) handle(ctx context.Context, sink Sink, m kafka.Message) {
	updates, err := DecodeTicks(m.Value)
	if err != nil {
		k.log.Warn("bad message", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if _, err := sink.Apply(ctx, updates); err != nil {
		k.log.Error("apply ticks", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
