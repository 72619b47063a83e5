package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/config"
)

// Message is a record on the bus. Records sharing a key land on the same
// partition and are consumed in publish order.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Handler processes an inbound message.
type Handler func(context.Context, Message) error

// Client is the pluggable messaging abstraction.
type Client interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
}

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// noopClient is used when messaging is disabled.
type noopClient struct {
	topic string
}

func (n noopClient) Publish(context.Context, Message) error { return nil }
func (n noopClient) Consume(ctx context.Context, handler Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (n noopClient) Topic() string { return n.topic }

// kafkaClient implements the Client via kafka-go.
type kafkaClient struct {
	writer      *kafka.Writer
	readerCfg   kafka.ReaderConfig
	readerOnce  sync.Once
	reader      *kafka.Reader
	topic       string
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func (k *kafkaClient) Publish(ctx context.Context, msg Message) error {
	out := kafka.Message{Key: msg.Key, Value: msg.Value, Time: msg.Time}
	for name, value := range msg.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	if err := k.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Consume fetches messages until ctx ends. A message is committed once its
// handler succeeds or has failed maxAttempts times, so one bad record never
// stalls its partition.
func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	reader := k.consumer()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))
			if err := sleep(ctx, k.retryDelay); err != nil {
				return err
			}
			continue
		}

		wrapped := fromKafka(msg)
		if err := Deliver(ctx, handler, wrapped, k.maxAttempts, k.retryDelay); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("dropping message after retries",
				zap.Error(err),
				zap.ByteString("key", msg.Key),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			k.logger.Warn("commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

// consumer joins the consumer group on first use, so processes that only
// publish never take partitions.
func (k *kafkaClient) consumer() *kafka.Reader {
	k.readerOnce.Do(func() {
		k.reader = kafka.NewReader(k.readerCfg)
	})
	return k.reader
}

func (k *kafkaClient) close() error {
	err := k.writer.Close()
	k.readerOnce.Do(func() {})
	if k.reader != nil {
		err = errors.Join(err, k.reader.Close())
	}
	return err
}

// Deliver runs handler up to attempts times, doubling delay between tries.
// It returns the last handler error, or ctx's error if ctx ends first.
func Deliver(ctx context.Context, handler Handler, msg Message, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fromKafka(msg kafka.Message) Message {
	out := Message{
		Topic:  msg.Topic,
		Key:    append([]byte(nil), msg.Key...),
		Value:  append([]byte(nil), msg.Value...),
		Offset: msg.Offset,
		Time:   msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}

func (k *kafkaClient) Topic() string { return k.topic }

// NewClient builds a messaging client based on configuration.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if !cfg.Messaging.Enabled || cfg.Messaging.Driver == "noop" {
		logger.Info("messaging disabled; lifecycle events are not recorded")

		return noopClient{topic: cfg.Messaging.Kafka.Topic}, nil
	}

	switch cfg.Messaging.Driver {
	case "kafka":
		return newKafkaClient(lc, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

func newKafkaClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	topic := cfg.Messaging.Kafka.Topic
	logger = logger.Named("kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Messaging.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Logger:       kafkaLogger{logger: logger},
		ErrorLogger:  kafkaLogger{logger: logger},
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:        cfg.Messaging.Kafka.Brokers,
		GroupID:        cfg.Messaging.ConsumerGroup,
		Topic:          topic,
		MinBytes:       cfg.Messaging.Kafka.MinBytes,
		MaxBytes:       cfg.Messaging.Kafka.MaxBytes,
		CommitInterval: cfg.Messaging.Kafka.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  cfg.Messaging.Kafka.ConnectTimeout,
			ClientID: cfg.Messaging.Kafka.ClientID,
		},
	}

	client := &kafkaClient{
		writer:      writer,
		readerCfg:   readerConfig,
		topic:       topic,
		maxAttempts: cfg.Messaging.Workers.MaxAttempts,
		retryDelay:  cfg.Messaging.Workers.PollInterval,
		logger:      logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("kafka client ready",
				zap.Strings("brokers", cfg.Messaging.Kafka.Brokers),
				zap.String("topic", topic),
				zap.String("group", cfg.Messaging.ConsumerGroup),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing kafka client")
			return client.close()
		},
	})

	return client, nil
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...interface{}) {
	k.logger.Sugar().Debugf(msg, args...)
}
