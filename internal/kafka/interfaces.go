package kafka

import (
	"context"
	"time"
)

// MessageSender publishes a single message.
type MessageSender interface {
	Send(ctx context.Context, msg Message) error
}

type PoolController interface {
	Start() error
	Stop() error
}

// ProducerPool defines the interface for a pool of Kafka producers.
// It provides methods to start the pool, send messages, and gracefully stop.
type ProducerPool interface {
	MessageSender
	PoolController
}

// KafkaProducer defines the interface for a single producer
type KafkaProducer interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Recorder receives producer metrics.
type Recorder interface {
	UpdateKafkaQueueSize(size float64)
	RecordKafkaError(reason string)
	RecordKafkaMessageSent(topic string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) UpdateKafkaQueueSize(float64)                {}
func (nopRecorder) RecordKafkaError(string)                     {}
func (nopRecorder) RecordKafkaMessageSent(string, time.Duration) {}
