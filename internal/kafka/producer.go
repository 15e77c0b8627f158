package kafka

import (
	"context"
	"fmt"
	"time"

	"go-kafka-onion/internal/models"

	"github.com/IBM/sarama"
)

// Producer sends single messages to an explicit partition.
type Producer struct {
	producer sarama.SyncProducer
	timeout  time.Duration
}

func NewProducer(client sarama.Client, timeout time.Duration) (*Producer, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return NewProducerFrom(producer, timeout), nil
}

func NewProducerFrom(producer sarama.SyncProducer, timeout time.Duration) *Producer {
	return &Producer{producer: producer, timeout: timeout}
}

func (p *Producer) Produce(ctx context.Context, topic string, partition int32, payload string) (models.ProduceResult, error) {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Partition: partition,
		Value:     sarama.StringEncoder(payload),
	}

	result, err := callWithTimeout(ctx, p.timeout, func() (models.ProduceResult, error) {
		partition, offset, err := p.producer.SendMessage(msg)
		return models.ProduceResult{Partition: partition, Offset: offset}, err
	})
	if err != nil {
		return models.ProduceResult{}, fmt.Errorf("%w: %s/%d: %v", ErrProduceFailed, topic, partition, err)
	}
	return result, nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
