package kafka

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"go-kafka-onion/internal/config"
	"go-kafka-onion/internal/models"

	"github.com/IBM/sarama"
)

// DeliveryErrorPayload replaces the payload of a record that is not text.
const DeliveryErrorPayload = "<<payload could not be decoded as UTF-8>>"

// Engine reads a bounded window of messages from explicitly chosen offsets.
type Engine struct {
	resolver     *Resolver
	newConsumer  ConsumerFactory
	windowSize   int64
	pollTimeout  time.Duration
	maxWait      time.Duration
	defaultGroup string
}

func NewEngine(resolver *Resolver, newConsumer ConsumerFactory, tuning config.Tuning, defaultGroup string) *Engine {
	return &Engine{
		resolver:     resolver,
		newConsumer:  newConsumer,
		windowSize:   tuning.WindowSize,
		pollTimeout:  tuning.PollTimeout,
		maxWait:      tuning.ConsumeTimeout,
		defaultGroup: defaultGroup,
	}
}

// Consume reads at most one window per requested partition, starting at the
// requested offsets. Partitions missing from req are neither read nor
// reported. The returned progress is where the next call should resume.
//
// A partition already read up to its high watermark is not assigned and
// reports high. An assigned partition that runs dry before the end of its
// window reports the last offset it delivered, or its starting offset when
// nothing arrived.
func (e *Engine) Consume(ctx context.Context, topic, groupID string, req models.OffsetRequest) (*models.ConsumptionResult, error) {
	snapshot, err := e.resolver.Snapshot(ctx, topic)
	if err != nil {
		return nil, err
	}
	p, err := newPlan(snapshot, req, e.windowSize)
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, snapshot, groupID, p)
}

// ConsumeLatest reads the last window of every partition of topic.
func (e *Engine) ConsumeLatest(ctx context.Context, topic, groupID string) (*models.ConsumptionResult, error) {
	snapshot, err := e.resolver.Snapshot(ctx, topic)
	if err != nil {
		return nil, err
	}
	p, err := newPlan(snapshot, latestRequest(snapshot, e.windowSize), e.windowSize)
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, snapshot, groupID, p)
}

// ConsumeBefore reads the window that ends right before the given offsets,
// for paging backwards. Progress holds the first offset of every page so it
// can be passed back to read the page before.
func (e *Engine) ConsumeBefore(ctx context.Context, topic, groupID string, before models.OffsetRequest) (*models.ConsumptionResult, error) {
	snapshot, err := e.resolver.Snapshot(ctx, topic)
	if err != nil {
		return nil, err
	}
	p, err := newBeforePlan(snapshot, before, e.windowSize)
	if err != nil {
		return nil, err
	}
	result, err := e.consume(ctx, snapshot, groupID, p)
	if err != nil {
		return nil, err
	}
	for _, w := range p.active {
		result.Progress[w.partition] = w.floor
	}
	return result, nil
}

func (e *Engine) consume(ctx context.Context, snapshot models.TopicSnapshot, groupID string, p *plan) (*models.ConsumptionResult, error) {
	if groupID == "" {
		groupID = e.defaultGroup
	}

	result := &models.ConsumptionResult{
		Messages: []models.MessageRecord{},
		Progress: make(map[int32]int64, len(p.satisfied)+len(p.active)),
	}
	for partition, offset := range p.satisfied {
		result.Progress[partition] = offset
	}
	if len(p.active) == 0 {
		return result, nil
	}

	// The ceiling covers opening the consumer as well as reading.
	readCtx, cancel := context.WithTimeout(ctx, e.maxWait)
	defer cancel()

	consumer, err := e.open(readCtx, snapshot.Name, groupID, p.starts())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer closeConsumer(consumer)

	windows := make(map[int32]window, len(p.active))
	for _, w := range p.active {
		windows[w.partition] = w
		result.Progress[w.partition] = w.floor
	}

	pending := len(windows)
	for pending > 0 {
		msg, err := consumer.ReadMessage(readCtx, e.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Poll timeout or wall-clock ceiling, the log has nothing more for now.
			break
		}

		w, ok := windows[msg.Partition]
		if !ok || msg.Offset < w.floor || msg.Offset > w.limit || result.Progress[msg.Partition] >= w.limit {
			continue
		}

		result.Messages = append(result.Messages, newMessageRecord(msg))
		result.Progress[msg.Partition] = msg.Offset
		consumer.CommitOffset(msg.Partition, msg.Offset)

		if msg.Offset >= w.limit {
			pending--
		}
	}

	log.Printf("[consumer] %s: read %d messages from %d partitions (group %s)",
		snapshot.Name, len(result.Messages), len(windows), groupID)
	return result, nil
}

// open creates a consumer and assigns it to starts, giving up when ctx is
// done. A consumer that becomes ready after that is released.
func (e *Engine) open(ctx context.Context, topic, groupID string, starts map[int32]int64) (Consumer, error) {
	consumer, err := openWithTimeout(ctx, func() (Consumer, error) {
		consumer, err := e.newConsumer(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("%w: group %s: %v", ErrConsumerCreation, groupID, err)
		}
		if err := consumer.Assign(topic, starts); err != nil {
			closeConsumer(consumer)
			return nil, fmt.Errorf("%w: %s: %v", ErrAssignmentFailed, topic, err)
		}
		return consumer, nil
	}, closeConsumer)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: group %s: not ready in time: %v", ErrConsumerCreation, groupID, ctx.Err())
	}
	return consumer, err
}

func newMessageRecord(msg *sarama.ConsumerMessage) models.MessageRecord {
	payload := DeliveryErrorPayload
	if utf8.Valid(msg.Value) {
		payload = string(msg.Value)
	} else {
		log.Printf("[consumer] %v: %s/%d at offset %d", ErrDelivery, msg.Topic, msg.Partition, msg.Offset)
	}

	timestamp := int64(-1)
	if !msg.Timestamp.IsZero() {
		timestamp = msg.Timestamp.UnixMilli()
	}

	return models.MessageRecord{
		Payload:   payload,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: timestamp,
	}
}
