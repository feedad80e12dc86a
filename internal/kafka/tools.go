package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

func adminConfig(timeout time.Duration) *sarama.Config {
	config := sarama.NewConfig()
	config.Net.DialTimeout = timeout
	config.Net.ReadTimeout = timeout
	config.Net.WriteTimeout = timeout
	return config
}

// CheckClusterAvailability verifies that every broker advertised by the
// cluster accepts connections.
func CheckClusterAvailability(brokers []string, timeout time.Duration) error {
	log := logrus.WithField("component", "kafka_tools")
	config := adminConfig(timeout)

	log.Tracef("Checking Kafka cluster availability with brokers: %v", brokers)
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	defer client.Close()

	availableBrokers := client.Brokers()
	if len(availableBrokers) == 0 {
		return fmt.Errorf("no brokers available in the cluster")
	}
	log.Tracef("Kafka brokers available: %d", len(availableBrokers))

	for _, broker := range availableBrokers {
		if err := broker.Open(config); err != nil && !errors.Is(err, sarama.ErrAlreadyConnected) {
			return fmt.Errorf("failed to connect to broker %s: %w", broker.Addr(), err)
		}
		connected, err := broker.Connected()
		if err != nil {
			return fmt.Errorf("failed to check connection to broker %s: %w", broker.Addr(), err)
		}
		if !connected {
			return fmt.Errorf("broker %s is not connected", broker.Addr())
		}
		log.Tracef("Broker %s is connected", broker.Addr())
		broker.Close()
	}

	return nil
}

// EnsureTopics creates the topics that do not exist yet.
func EnsureTopics(brokers []string, topics []string, partitions int32, replication int16, timeout time.Duration) error {
	log := logrus.WithField("component", "kafka_tools")

	admin, err := sarama.NewClusterAdmin(brokers, adminConfig(timeout))
	if err != nil {
		return fmt.Errorf("failed to create kafka admin: %w", err)
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	for _, topic := range topics {
		if _, ok := existing[topic]; ok {
			continue
		}
		detail := &sarama.TopicDetail{NumPartitions: partitions, ReplicationFactor: replication}
		err := admin.CreateTopic(topic, detail, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		log.WithField("topic", topic).Info("Created kafka topic")
	}
	return nil
}
