package kafka

import (
	"context"
	"errors"
	"fmt"

	"go-kafka-onion/internal/models"
)

// List returns every topic with its partition count, without watermarks.
func (r *Resolver) List(ctx context.Context) ([]models.TopicSummary, error) {
	names, err := r.topicNames(ctx)
	if err != nil {
		return nil, err
	}

	topics := make([]models.TopicSummary, 0, len(names))
	for _, name := range names {
		partitions, err := callWithTimeout(ctx, r.timeout, func() ([]int32, error) {
			return r.client.Partitions(name)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: partitions of %s: %v", ErrMetadataUnavailable, name, err)
		}
		topics = append(topics, models.TopicSummary{
			Name:           name,
			PartitionCount: len(partitions),
		})
	}
	return topics, nil
}
