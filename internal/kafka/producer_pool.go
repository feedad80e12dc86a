package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrPoolNotStarted = errors.New("producer pool not started")
	ErrPoolStopping   = errors.New("producer pool is shutting down")
)

// Message represents a message to be sent to Kafka
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// ProducerConfig holds configuration for the producer pool
type ProducerConfig struct {
	BrokerList     []string      // List of Kafka brokers (i.e. ["localhost:9092"])
	PoolSize       int           // Number of producers in the pool
	ClientID       string        // Sarama client id
	SendTimeout    time.Duration // Per message send timeout
	AcquireTimeout time.Duration // How long Send waits for an idle producer
	Metrics        Recorder

	// NewProducer overrides how producers are created. Defaults to sarama.
	NewProducer func(ProducerConfig) (KafkaProducer, error)
}

// producerPool manages a fixed set of KafkaProducers shared by concurrent senders.
type producerPool struct {
	producers chan KafkaProducer
	config    ProducerConfig
	logger    *logrus.Entry
	metrics   Recorder

	mu       sync.RWMutex
	started  bool
	stopping bool
	inflight sync.WaitGroup
}

// NewProducerPool creates a new pool of Kafka producers. Start must be called
// before sending.
func NewProducerPool(config ProducerConfig) (*producerPool, error) {
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if len(config.BrokerList) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 3 * time.Second
	}
	if config.NewProducer == nil {
		config.NewProducer = newSaramaProducer
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	return &producerPool{
		producers: make(chan KafkaProducer, config.PoolSize),
		config:    config,
		logger:    logrus.WithField("component", "kafka_producer_pool"),
		metrics:   metrics,
	}, nil
}

// Start creates all producers. If any producer fails, the ones already
// created are closed.
func (p *producerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("producer pool already started")
	}

	for i := 0; i < p.config.PoolSize; i++ {
		producer, err := p.config.NewProducer(p.config)
		if err != nil {
			p.closeIdle()
			return fmt.Errorf("failed to create producer %d: %w", i, err)
		}
		p.producers <- producer
	}

	p.started = true
	p.logger.WithField("size", p.config.PoolSize).Info("Producer pool started successfully")
	return nil
}

// Stop waits for in-flight sends, then closes every producer.
func (p *producerPool) Stop() error {
	p.mu.Lock()
	switch {
	case p.stopping:
		p.mu.Unlock()
		return ErrPoolStopping
	case !p.started:
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	p.stopping = true
	p.mu.Unlock()

	p.logger.Info("Stopping producer pool...")

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while stopping producer pool")
	}

	p.mu.Lock()
	err := p.closeIdle()
	p.started = false
	p.stopping = false
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("errors occurred while closing producers: %w", err)
	}
	p.logger.Info("Producer pool stopped successfully")
	return nil
}

// closeIdle closes every producer currently in the pool.
func (p *producerPool) closeIdle() error {
	var errs []error
	for {
		select {
		case producer := <-p.producers:
			if err := producer.Close(); err != nil {
				p.logger.WithError(err).Error("Failed to close producer")
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// Send publishes msg using an idle producer from the pool.
//
// Timeouts:
//   - AcquireTimeout waiting for an idle producer
//   - SendTimeout for the send itself
func (p *producerPool) Send(ctx context.Context, msg Message) error {
	p.mu.RLock()
	switch {
	case !p.started:
		p.mu.RUnlock()
		return ErrPoolNotStarted
	case p.stopping:
		p.mu.RUnlock()
		p.metrics.RecordKafkaError("producer_pool_shutdown")
		return ErrPoolStopping
	}
	p.inflight.Add(1)
	p.mu.RUnlock()
	defer p.inflight.Done()

	start := time.Now()
	p.metrics.UpdateKafkaQueueSize(float64(len(p.producers)))

	acquire := time.NewTimer(p.config.AcquireTimeout)
	defer acquire.Stop()

	select {
	case producer := <-p.producers:
		defer func() { p.producers <- producer }()

		sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
		defer cancel()

		if err := producer.Send(sendCtx, msg); err != nil {
			p.metrics.RecordKafkaError("send_failed")
			return fmt.Errorf("failed to send message: %w", err)
		}
		p.metrics.RecordKafkaMessageSent(msg.Topic, time.Since(start))
		return nil

	case <-acquire.C:
		p.metrics.RecordKafkaError("acquire_timeout")
		return fmt.Errorf("timeout waiting for an idle producer")

	case <-ctx.Done():
		p.metrics.RecordKafkaError("context_cancelled")
		return fmt.Errorf("operation cancelled by caller: %w", ctx.Err())
	}
}
