package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"chronicle/collab/internal/collab"
)

// KafkaPublisher sends each event synchronously, keyed by document id so a
// document's events share one partition. It blocks on the broker; wrap it
// in a Dispatcher before handing it to the session manager.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewKafkaDispatcher queues events in front of a KafkaPublisher.
func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	return NewDispatcher("kafka", NewKafkaPublisher(producer, topic), opts, logger)
}

// NewSyncProducer connects a producer configured the way the publisher
// expects.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return producer, nil
}

func (p *KafkaPublisher) Publish(_ context.Context, event collab.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.DocumentID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(event.Type)},
		},
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
