package kafka

import (
	"context"
	"fmt"
	"sort"

	"github.com/IBM/sarama"
)

// saramaProducer implements KafkaProducer on top of a sarama.SyncProducer.
// Every send waits for acknowledgment from all in-sync replicas.
type saramaProducer struct {
	producer sarama.SyncProducer
}

// newSaramaProducer creates a synchronous producer with RequiredAcks=WaitForAll
// and up to 3 retries for transient failures. Messages with the same key land
// on the same partition, which keeps per-symbol ordering.
func newSaramaProducer(config ProducerConfig) (KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = config.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(config.BrokerList, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}

	return &saramaProducer{producer: producer}, nil
}

// Send sends msg and gives up waiting once ctx is done. The underlying sync
// send keeps running in that case and its result is discarded.
func (p *saramaProducer) Send(ctx context.Context, msg Message) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := p.producer.SendMessage(toProducerMessage(msg))
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *saramaProducer) Close() error {
	return p.producer.Close()
}

func toProducerMessage(msg Message) *sarama.ProducerMessage {
	out := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Payload),
	}
	if msg.Key != "" {
		out.Key = sarama.StringEncoder(msg.Key)
	}

	if len(msg.Headers) > 0 {
		keys := make([]string, 0, len(msg.Headers))
		for k := range msg.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		headers := make([]sarama.RecordHeader, 0, len(keys))
		for _, k := range keys {
			headers = append(headers, sarama.RecordHeader{
				Key:   []byte(k),
				Value: []byte(msg.Headers[k]),
			})
		}
		out.Headers = headers
	}
	return out
}
