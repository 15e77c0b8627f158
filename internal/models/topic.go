package models

// PartitionWatermark is the retained offset range of one partition.
// Low and High are -1 when the broker could not be queried, Error says why.
type PartitionWatermark struct {
	ID           int32  `json:"id"`
	Low          int64  `json:"lowwatermark_offset"`
	High         int64  `json:"highwatermark_offset"`
	MessageCount int64  `json:"message_count"`
	Error        string `json:"error,omitempty"`
}

func NewPartitionWatermark(id int32, low, high int64) PartitionWatermark {
	count := high - low
	if count < 0 {
		count = 0
	}
	return PartitionWatermark{
		ID:           id,
		Low:          low,
		High:         high,
		MessageCount: count,
	}
}

// TopicSnapshot is the state of a topic at the time it was resolved.
type TopicSnapshot struct {
	Name          string               `json:"name"`
	TotalMessages int64                `json:"total_messages"`
	Partitions    []PartitionWatermark `json:"partition_details"`
}

// Partition returns the watermark of partition id.
func (s *TopicSnapshot) Partition(id int32) (PartitionWatermark, bool) {
	for _, p := range s.Partitions {
		if p.ID == id {
			return p, true
		}
	}
	return PartitionWatermark{}, false
}

func (s *TopicSnapshot) Definition() TopicDefinition {
	return TopicDefinition{
		Name:              s.Name,
		PartitionCount:    int32(len(s.Partitions)),
		ReplicationFactor: 1,
	}
}

type TopicSummary struct {
	Name           string `json:"name"`
	PartitionCount int    `json:"partition_count"`
}

// TopicDefinition is what a reset needs to bring a topic back.
type TopicDefinition struct {
	Name              string `json:"name"`
	PartitionCount    int32  `json:"partition_count"`
	ReplicationFactor int16  `json:"replication_factor"`
}
