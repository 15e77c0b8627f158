package kafka

import "errors"

var (
	ErrMetadataUnavailable  = errors.New("cluster metadata unavailable")
	ErrTopicNotFound        = errors.New("topic not found")
	ErrBrokerQueryFailed    = errors.New("broker query failed")
	ErrConsumerCreation     = errors.New("consumer creation failed")
	ErrAssignmentFailed     = errors.New("partition assignment failed")
	ErrDelivery             = errors.New("message delivery error")
	ErrDeletionFailed       = errors.New("topic deletion failed")
	ErrDeletionNotConfirmed = errors.New("topic deletion not confirmed")
	ErrRecreationFailed     = errors.New("topic recreation failed")
	ErrProduceFailed        = errors.New("produce failed")
	errPollTimeout          = errors.New("no message within poll timeout")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrMetadataUnavailable, "MetadataUnavailable"},
	{ErrTopicNotFound, "TopicNotFound"},
	{ErrBrokerQueryFailed, "BrokerQueryFailed"},
	{ErrConsumerCreation, "ConsumerCreationFailed"},
	{ErrAssignmentFailed, "AssignmentFailed"},
	{ErrDelivery, "DeliveryError"},
	{ErrDeletionFailed, "DeletionFailed"},
	{ErrDeletionNotConfirmed, "DeletionNotConfirmed"},
	{ErrRecreationFailed, "RecreationFailed"},
	{ErrProduceFailed, "ProduceFailed"},
}

// ErrorKind names the failure class of err for API responses.
// Errors outside the taxonomy are reported as "Internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
