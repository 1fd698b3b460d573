// Package kafka provides Kafka reader and writer factories. Only this
// package imports kafka-go; adapters use the re-exported types.
package kafka

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a single Kafka record.
type Message = kafka.Message

// Header is a Kafka record header.
type Header = kafka.Header

// ErrBrokersRequired is returned when no broker address is configured.
var ErrBrokersRequired = errors.New("kafka: brokers are required")

// ErrTopicRequired is returned when a writer or reader has no topic.
var ErrTopicRequired = errors.New("kafka: topic is required")

// WriterConfig holds producer parameters.
type WriterConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// ReaderConfig holds consumer-group parameters.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxWait bounds how long a fetch blocks waiting for new data.
	MaxWait time.Duration
}

// NewWriter creates a synchronous, all-replica-acknowledged writer.
// Messages with the same key land on the same partition.
func NewWriter(cfg WriterConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}, nil
}

// NewReader creates a consumer-group reader. Offsets are committed
// explicitly by the caller.
func NewReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.MaxWait,
	}), nil
}
