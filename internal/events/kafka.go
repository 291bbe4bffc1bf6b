// Package events publishes committed ledger transactions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cashforge/internal/ledger"

	"github.com/IBM/sarama"
)

const DefaultTopic = "cashforge.transactions"

type envelope struct {
	Event       string             `json:"event"`
	PublishedAt time.Time          `json:"published_at"`
	Transaction ledger.Transaction `json:"transaction"`
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish keys messages by account so one account's transactions stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, tx ledger.Transaction) error {
	body, err := json.Marshal(envelope{
		Event:       "transaction." + string(tx.Type),
		PublishedAt: time.Now().UTC(),
		Transaction: tx,
	})
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(tx.AccountID),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", tx.ID, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
