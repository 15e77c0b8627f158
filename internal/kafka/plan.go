package kafka

import (
	"fmt"
	"sort"

	"go-kafka-onion/internal/models"
)

// window is the offset range one consume call may read from a partition.
type window struct {
	partition int32
	floor     int64
	limit     int64
	high      int64
}

// plan splits an offset request into partitions that are already read to
// the end and partitions that still have a window to read.
type plan struct {
	satisfied map[int32]int64
	active    []window
}

// newPlan derives the consumption plan of req against snapshot. Every
// requested partition must exist in the snapshot.
func newPlan(snapshot models.TopicSnapshot, req models.OffsetRequest, windowSize int64) (*plan, error) {
	p := &plan{satisfied: make(map[int32]int64)}

	for partition, requested := range req {
		wm, ok := snapshot.Partition(partition)
		if !ok {
			return nil, fmt.Errorf("%w: topic %s has no partition %d", ErrAssignmentFailed, snapshot.Name, partition)
		}

		ceiling := min(wm.High-1, requested+windowSize)
		floor := max(wm.Low, requested)
		if floor >= ceiling {
			p.satisfied[partition] = wm.High
			continue
		}
		p.active = append(p.active, window{
			partition: partition,
			floor:     floor,
			limit:     ceiling,
			high:      wm.High,
		})
	}

	sort.Slice(p.active, func(i, j int) bool { return p.active[i].partition < p.active[j].partition })
	return p, nil
}

// starts returns the offset each active partition is assigned at.
func (p *plan) starts() map[int32]int64 {
	out := make(map[int32]int64, len(p.active))
	for _, w := range p.active {
		out[w.partition] = w.floor
	}
	return out
}

// latestRequest asks for the last windowSize messages of every partition.
func latestRequest(snapshot models.TopicSnapshot, windowSize int64) models.OffsetRequest {
	req := make(models.OffsetRequest, len(snapshot.Partitions))
	for _, wm := range snapshot.Partitions {
		req[wm.ID] = max(wm.Low, wm.High-windowSize)
	}
	return req
}

// newBeforePlan derives the plan of the page that ends right before the
// offsets in before. A partition with nothing before its offset is
// satisfied at its low watermark.
func newBeforePlan(snapshot models.TopicSnapshot, before models.OffsetRequest, windowSize int64) (*plan, error) {
	p := &plan{satisfied: make(map[int32]int64)}

	for partition, offset := range before {
		wm, ok := snapshot.Partition(partition)
		if !ok {
			return nil, fmt.Errorf("%w: topic %s has no partition %d", ErrAssignmentFailed, snapshot.Name, partition)
		}

		end := min(offset, wm.High)
		start := max(wm.Low, end-windowSize)
		if start >= end {
			p.satisfied[partition] = start
			continue
		}
		p.active = append(p.active, window{
			partition: partition,
			floor:     start,
			limit:     end - 1,
			high:      wm.High,
		})
	}

	sort.Slice(p.active, func(i, j int) bool { return p.active[i].partition < p.active[j].partition })
	return p, nil
}
