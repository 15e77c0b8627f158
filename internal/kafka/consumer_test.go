package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

type fakeCloser struct {
	mu     sync.Mutex
	closes int
}

func (c *fakeCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakePartitionOffsets struct {
	mu     sync.Mutex
	marked int64
	closed bool
	errs   chan *sarama.ConsumerError
}

func (p *fakePartitionOffsets) NextOffset() (int64, string) { return p.marked, "" }

func (p *fakePartitionOffsets) MarkOffset(offset int64, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marked = offset
}

func (p *fakePartitionOffsets) ResetOffset(offset int64, _ string) { p.MarkOffset(offset, "") }

func (p *fakePartitionOffsets) Errors() <-chan *sarama.ConsumerError { return p.errs }

func (p *fakePartitionOffsets) AsyncClose() { p.Close() }

func (p *fakePartitionOffsets) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.errs)
	}
	return nil
}

type fakeOffsetManager struct {
	partitions map[int32]*fakePartitionOffsets
	closed     bool
}

func (m *fakeOffsetManager) ManagePartition(_ string, partition int32) (sarama.PartitionOffsetManager, error) {
	p := &fakePartitionOffsets{marked: -1, errs: make(chan *sarama.ConsumerError)}
	m.partitions[partition] = p
	return p, nil
}

func (m *fakeOffsetManager) Close() error {
	m.closed = true
	return nil
}

// refusingConsumer rejects one partition and hands the rest to the mock.
type refusingConsumer struct {
	sarama.Consumer
	refuse int32
}

func (c refusingConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	if partition == c.refuse {
		return nil, sarama.ErrOffsetOutOfRange
	}
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

func newMockedConsumer(consumer sarama.Consumer) (*saramaConsumer, *fakeCloser, *fakeOffsetManager) {
	client := &fakeCloser{}
	offsets := &fakeOffsetManager{partitions: make(map[int32]*fakePartitionOffsets)}
	return newAssignedConsumer(client, consumer, offsets, "browser"), client, offsets
}

func TestSaramaConsumerDeliversAssignedPartitions(t *testing.T) {
	mock := mocks.NewConsumer(t, nil)
	for partition := int32(0); partition < 2; partition++ {
		pc := mock.ExpectConsumePartition("orders", partition, 10)
		for i := 0; i < 3; i++ {
			pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(fmt.Sprintf("p%d-%d", partition, i))})
		}
	}

	c, client, offsets := newMockedConsumer(mock)
	if err := c.Assign("orders", map[int32]int64{0: 10, 1: 10}); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got := make(map[int32]int)
	for i := 0; i < 6; i++ {
		msg, err := c.ReadMessage(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg.Topic != "orders" {
			t.Errorf("message from topic %q", msg.Topic)
		}
		got[msg.Partition]++
	}
	if got[0] != 3 || got[1] != 3 {
		t.Errorf("messages per partition = %v, want 3 and 3", got)
	}

	if _, err := c.ReadMessage(context.Background(), 20*time.Millisecond); !errors.Is(err, errPollTimeout) {
		t.Errorf("drained read error = %v, want errPollTimeout", err)
	}

	c.CommitOffset(1, 41)
	if marked := offsets.partitions[1].marked; marked != 42 {
		t.Errorf("marked offset = %d, want 42", marked)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for partition, p := range offsets.partitions {
		if !p.closed {
			t.Errorf("offsets of partition %d not flushed", partition)
		}
	}
	if !offsets.closed || client.closes != 1 {
		t.Errorf("offset manager closed=%v, client closes=%d", offsets.closed, client.closes)
	}
}

func TestSaramaConsumerCloseAfterPartialAssign(t *testing.T) {
	mock := mocks.NewConsumer(t, nil)
	mock.ExpectConsumePartition("orders", 0, 5).YieldMessage(&sarama.ConsumerMessage{Value: []byte("pending")})

	c, client, offsets := newMockedConsumer(refusingConsumer{Consumer: mock, refuse: 1})
	if err := c.Assign("orders", map[int32]int64{0: 5, 1: 5}); err == nil {
		t.Fatal("Assign accepted a refused partition")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p := offsets.partitions[0]; p != nil && !p.closed {
		t.Error("offsets of the assigned partition not flushed")
	}
	if !offsets.closed || client.closes != 1 {
		t.Errorf("offset manager closed=%v, client closes=%d", offsets.closed, client.closes)
	}

	// a second release is a no-op
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if client.closes != 1 {
		t.Errorf("client closed %d times", client.closes)
	}
}

func TestSaramaConsumerReadHonoursContext(t *testing.T) {
	mock := mocks.NewConsumer(t, nil)
	mock.ExpectConsumePartition("orders", 0, 0)

	c, _, _ := newMockedConsumer(mock)
	defer c.Close()
	if err := c.Assign("orders", map[int32]int64{0: 0}); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadMessage(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
