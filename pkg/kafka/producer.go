package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// HeaderContentType is set on every message written by PublishJSON.
const HeaderContentType = "content-type"

// MessageWriter is the subset of *kafkago.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes indexflow notifications to a single topic.
type Producer struct {
	writer MessageWriter
}

// ProducerConfig mirrors the kafka-go Writer settings exposed through config.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
}

// NewProducer constructs a Producer backed by a kafka-go Writer. Messages are
// hash-balanced so that all notifications for one key share a partition.
func NewProducer(cfg ProducerConfig) *Producer {
	return NewProducerWithWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: cfg.RequiredAcks,
		Compression:  cfg.Compression,
		MaxAttempts:  cfg.MaxAttempts,
	})
}

// NewProducerWithWriter wires a Producer around an existing writer.
func NewProducerWithWriter(writer MessageWriter) *Producer {
	return &Producer{writer: writer}
}

// Publish sends one raw message.
func (p *Producer) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	return p.writer.WriteMessages(ctx, buildMessage(key, value, headers))
}

// PublishJSON encodes v as the message value and marks it as JSON.
func (p *Producer) PublishJSON(ctx context.Context, key string, headers map[string]string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	all := make(map[string]string, len(headers)+1)
	maps.Copy(all, headers)
	all[HeaderContentType] = "application/json"
	return p.Publish(ctx, []byte(key), value, all)
}

// Close flushes pending batches.
func (p *Producer) Close(ctx context.Context) error {
	return p.writer.Close()
}

func buildMessage(key, value []byte, headers map[string]string) kafkago.Message {
	msg := kafkago.Message{
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	for _, k := range sortedKeys(headers) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return msg
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Headers flattens message headers into a map; later duplicates win.
func Headers(msg kafkago.Message) map[string]string {
	if len(msg.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

// CompressionFromString maps a codec name from configuration to kafka-go.
// Unknown names fall back to snappy.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return 0
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
