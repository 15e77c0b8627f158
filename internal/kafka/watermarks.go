package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"go-kafka-onion/internal/models"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"
)

// Resolver computes fresh watermark snapshots of topics. Nothing is cached,
// retention and writers move watermarks between calls.
type Resolver struct {
	client      MetadataClient
	timeout     time.Duration
	concurrency int
}

func NewResolver(client MetadataClient, timeout time.Duration, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{
		client:      client,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Resolve returns the snapshot of topic name, or of every topic in the
// cluster when name is empty. A missing named topic yields an empty slice.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]models.TopicSnapshot, error) {
	names, err := r.topicNames(ctx)
	if err != nil {
		return nil, err
	}

	if name != "" {
		if !contains(names, name) {
			return []models.TopicSnapshot{}, nil
		}
		names = []string{name}
	}

	snapshots := make([]models.TopicSnapshot, 0, len(names))
	for _, topic := range names {
		snapshot, err := r.resolveTopic(ctx, topic)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// Snapshot resolves a single topic and fails with ErrTopicNotFound when the
// cluster does not know it.
func (r *Resolver) Snapshot(ctx context.Context, name string) (models.TopicSnapshot, error) {
	snapshots, err := r.Resolve(ctx, name)
	if err != nil {
		return models.TopicSnapshot{}, err
	}
	if len(snapshots) == 0 {
		return models.TopicSnapshot{}, fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	return snapshots[0], nil
}

// topicNames refreshes the metadata of all topics at once. Refreshing a
// single topic by name could make the broker auto-create it.
func (r *Resolver) topicNames(ctx context.Context) ([]string, error) {
	names, err := callWithTimeout(ctx, r.timeout, func() ([]string, error) {
		if err := r.client.RefreshMetadata(); err != nil {
			return nil, err
		}
		return r.client.Topics()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Resolver) resolveTopic(ctx context.Context, topic string) (models.TopicSnapshot, error) {
	partitions, err := callWithTimeout(ctx, r.timeout, func() ([]int32, error) {
		return r.client.Partitions(topic)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.TopicSnapshot{}, err
		}
		return models.TopicSnapshot{}, fmt.Errorf("%w: partitions of %s: %v", ErrMetadataUnavailable, topic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	watermarks := make([]models.PartitionWatermark, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, partition := range partitions {
		g.Go(func() error {
			watermarks[i] = r.watermark(gctx, topic, partition)
			return gctx.Err()
		})
	}
	// watermark absorbs broker errors, only the caller giving up fails the topic
	if err := g.Wait(); err != nil {
		return models.TopicSnapshot{}, err
	}

	snapshot := models.TopicSnapshot{
		Name:       topic,
		Partitions: watermarks,
	}
	for _, w := range watermarks {
		snapshot.TotalMessages += w.MessageCount
	}
	return snapshot, nil
}

// watermark never fails: a partition the broker cannot answer for is
// reported with -1 watermarks so the rest of the topic is still listed.
func (r *Resolver) watermark(ctx context.Context, topic string, partition int32) models.PartitionWatermark {
	low, err := callWithTimeout(ctx, r.timeout, func() (int64, error) {
		return r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	})
	if err == nil {
		var high int64
		high, err = callWithTimeout(ctx, r.timeout, func() (int64, error) {
			return r.client.GetOffset(topic, partition, sarama.OffsetNewest)
		})
		if err == nil {
			return models.NewPartitionWatermark(partition, low, high)
		}
	}

	err = fmt.Errorf("%w: %s/%d: %v", ErrBrokerQueryFailed, topic, partition, err)
	log.Printf("[resolver] %v", err)
	w := models.NewPartitionWatermark(partition, -1, -1)
	w.Error = err.Error()
	return w
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
