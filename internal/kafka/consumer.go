package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// Consumer reads explicitly assigned partitions of one topic. There is no
// group rebalancing: the assigned offsets are the only source of truth, the
// group is used for committing what was read.
type Consumer interface {
	Assign(topic string, offsets map[int32]int64) error
	// ReadMessage returns errPollTimeout when nothing arrives within timeout.
	ReadMessage(ctx context.Context, timeout time.Duration) (*sarama.ConsumerMessage, error)
	// CommitOffset records offset as consumed. It never blocks and a failed
	// commit is only logged.
	CommitOffset(partition int32, offset int64)
	Close() error
}

// ConsumerFactory opens a new consumer identity bound to groupID. It returns
// once ctx is done even if the connection is still being set up.
type ConsumerFactory func(ctx context.Context, groupID string) (Consumer, error)

// offsetManager is the part of sarama.OffsetManager the consumer commits through.
type offsetManager interface {
	ManagePartition(topic string, partition int32) (sarama.PartitionOffsetManager, error)
	Close() error
}

type saramaConsumer struct {
	client   io.Closer
	consumer sarama.Consumer
	offsets  offsetManager
	groupID  string
	topic    string

	partitions []sarama.PartitionConsumer
	managers   map[int32]sarama.PartitionOffsetManager

	messages  chan *sarama.ConsumerMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// newSaramaConsumer takes ownership of client and closes it on failure.
func newSaramaConsumer(client sarama.Client, groupID string) (Consumer, error) {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, err
	}

	offsets, err := sarama.NewOffsetManagerFromClient(groupID, client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, err
	}

	return newAssignedConsumer(client, consumer, offsets, groupID), nil
}

// newAssignedConsumer owns client, consumer and offsets and closes all of
// them on Close.
func newAssignedConsumer(client io.Closer, consumer sarama.Consumer, offsets offsetManager, groupID string) *saramaConsumer {
	return &saramaConsumer{
		client:   client,
		consumer: consumer,
		offsets:  offsets,
		groupID:  groupID,
		managers: make(map[int32]sarama.PartitionOffsetManager),
		messages: make(chan *sarama.ConsumerMessage),
		done:     make(chan struct{}),
	}
}

func (c *saramaConsumer) Assign(topic string, offsets map[int32]int64) error {
	c.topic = topic
	partitions := make([]int32, 0, len(offsets))
	for partition := range offsets {
		partitions = append(partitions, partition)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		offset := offsets[partition]
		pc, err := c.consumer.ConsumePartition(topic, partition, offset)
		if err != nil {
			return fmt.Errorf("partition %d at offset %d: %w", partition, offset, err)
		}
		c.partitions = append(c.partitions, pc)
		c.wg.Add(1)
		go c.forward(pc)
		go c.logErrors("partition", pc.Errors())

		pom, err := c.offsets.ManagePartition(topic, partition)
		if err != nil {
			log.Printf("[consumer] offsets of %s/%d will not be committed for group %s: %v",
				topic, partition, c.groupID, err)
			continue
		}
		c.managers[partition] = pom
		go c.logErrors("commit", pom.Errors())
	}
	return nil
}

// forward fans the partition streams into one channel, the order across
// partitions is whatever the client delivers.
func (c *saramaConsumer) forward(pc sarama.PartitionConsumer) {
	defer c.wg.Done()
	for msg := range pc.Messages() {
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *saramaConsumer) logErrors(kind string, errs <-chan *sarama.ConsumerError) {
	for err := range errs {
		log.Printf("[consumer] %s error on %s/%d (group %s): %v", kind, err.Topic, err.Partition, c.groupID, err.Err)
	}
}

func (c *saramaConsumer) ReadMessage(ctx context.Context, timeout time.Duration) (*sarama.ConsumerMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.messages:
		return msg, nil
	case <-timer.C:
		return nil, errPollTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *saramaConsumer) CommitOffset(partition int32, offset int64) {
	if pom, ok := c.managers[partition]; ok {
		// the committed offset is the next one to read
		pom.MarkOffset(offset+1, "")
	}
}

// Close releases partitions, flushes marked offsets and closes the
// connection. It is safe to call more than once.
func (c *saramaConsumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		var errs []error
		for _, pc := range c.partitions {
			if err := pc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.wg.Wait()

		for partition, pom := range c.managers {
			if err := pom.Close(); err != nil {
				log.Printf("[consumer] commit on %s/%d failed: %v", c.topic, partition, err)
			}
		}
		if err := c.offsets.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.consumer.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func closeConsumer(c Consumer) {
	if err := c.Close(); err != nil {
		log.Printf("[consumer] release failed: %v", err)
	}
}
