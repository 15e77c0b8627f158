package models

// OffsetRequest maps a partition to the offset a reader wants to resume from.
type OffsetRequest map[int32]int64

type MessageRecord struct {
	Payload   string `json:"json"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
}

type ConsumptionResult struct {
	Messages []MessageRecord `json:"messages"`
	Progress map[int32]int64 `json:"partition_offsets"`
}

type ProduceRequest struct {
	Partition int32  `json:"partition"`
	Message   string `json:"message" binding:"required"`
}

type ProduceResult struct {
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}
