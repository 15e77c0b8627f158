package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go-kafka-onion/internal/config"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

type fakePartition struct {
	low, high int64
	err       error
	// stall > 0 hides offsets from stall on from consumers
	stall int64
	// payloads[i] is the value stored at offset low+i
	payloads [][]byte
}

// fakeCluster implements MetadataClient and hands out fakeConsumers reading
// from the same partitions.
type fakeCluster struct {
	mu          sync.Mutex
	topics      map[string][]*fakePartition
	metadataErr error
	refreshes   [][]string
	// offsetHook runs on every watermark query
	offsetHook func()

	consumerErr error
	assignErr   error
	consumers   []*fakeConsumer
	// hold blocks new consumers until it is closed, whatever their context says
	hold chan struct{}
	// delay is how long every delivered record takes to arrive
	delay time.Duration
	// readHook runs before every ReadMessage with the number of reads so far
	readHook func(reads int)
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{topics: make(map[string][]*fakePartition)}
}

// addTopic creates a topic whose partition i holds offsets [lows[i], highs[i]).
func (f *fakeCluster) addTopic(name string, lows, highs []int64) {
	partitions := make([]*fakePartition, len(highs))
	for i := range highs {
		p := &fakePartition{low: lows[i], high: highs[i]}
		for o := lows[i]; o < highs[i]; o++ {
			p.payloads = append(p.payloads, []byte(fmt.Sprintf(`{"partition":%d,"offset":%d}`, i, o)))
		}
		partitions[i] = p
	}
	f.topics[name] = partitions
}

func (f *fakeCluster) RefreshMetadata(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, topics)
	return f.metadataErr
}

func (f *fakeCluster) Topics() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	var names []string
	for name := range f.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeCluster) Partitions(topic string) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	partitions, ok := f.topics[topic]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	ids := make([]int32, len(partitions))
	for i := range partitions {
		ids[i] = int32(i)
	}
	return ids, nil
}

func (f *fakeCluster) GetOffset(topic string, partitionID int32, at int64) (int64, error) {
	if f.offsetHook != nil {
		f.offsetHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	partitions, ok := f.topics[topic]
	if !ok || int(partitionID) >= len(partitions) {
		return 0, sarama.ErrUnknownTopicOrPartition
	}
	p := partitions[partitionID]
	if p.err != nil {
		return 0, p.err
	}
	if at == sarama.OffsetOldest {
		return p.low, nil
	}
	return p.high, nil
}

func (f *fakeCluster) newConsumer(_ context.Context, groupID string) (Consumer, error) {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumerErr != nil {
		return nil, f.consumerErr
	}
	c := &fakeConsumer{cluster: f, groupID: groupID, commits: make(map[int32]int64)}
	f.consumers = append(f.consumers, c)
	return c, nil
}

func (f *fakeCluster) openedConsumers() []*fakeConsumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConsumer(nil), f.consumers...)
}

type position struct {
	partition int32
	next      int64
}

type fakeConsumer struct {
	cluster  *fakeCluster
	groupID  string
	topic    string
	assigned map[int32]int64
	cursors  []*position
	turn     int
	reads    int
	commits  map[int32]int64

	mu     sync.Mutex
	closed bool
}

func (c *fakeConsumer) Assign(topic string, offsets map[int32]int64) error {
	c.topic = topic
	c.assigned = offsets
	if c.cluster.assignErr != nil {
		return c.cluster.assignErr
	}
	for partition, offset := range offsets {
		c.cursors = append(c.cursors, &position{partition: partition, next: offset})
	}
	sort.Slice(c.cursors, func(i, j int) bool { return c.cursors[i].partition < c.cursors[j].partition })
	return nil
}

// ReadMessage interleaves partitions round robin and reports a poll timeout
// as soon as every partition is drained.
func (c *fakeConsumer) ReadMessage(ctx context.Context, _ time.Duration) (*sarama.ConsumerMessage, error) {
	if c.cluster.readHook != nil {
		c.cluster.readHook(c.reads)
	}
	c.reads++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	partitions := c.cluster.topics[c.topic]
	if c.cluster.delay > 0 {
		select {
		case <-time.After(c.cluster.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for range c.cursors {
		cur := c.cursors[c.turn%len(c.cursors)]
		c.turn++
		p := partitions[cur.partition]
		if cur.next < p.low || cur.next >= p.high || (p.stall > 0 && cur.next >= p.stall) {
			continue
		}
		msg := &sarama.ConsumerMessage{
			Topic:     c.topic,
			Partition: cur.partition,
			Offset:    cur.next,
			Value:     p.payloads[cur.next-p.low],
			Timestamp: time.UnixMilli(1_600_000_000_000 + cur.next),
		}
		cur.next++
		return msg, nil
	}
	return nil, errPollTimeout
}

func (c *fakeConsumer) CommitOffset(partition int32, offset int64) {
	c.commits[partition] = offset + 1
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeAdmin implements TopicAdmin against a fakeCluster. A deleted topic
// keeps being listed for the next lingering ListTopics calls.
type fakeAdmin struct {
	cluster   *fakeCluster
	deleteErr error
	createErr error
	listErr   error
	// listHold blocks ListTopics until it is closed
	listHold  chan struct{}
	lingering int
	deleted   string

	calls   []string
	created map[string]*sarama.TopicDetail

	mu     sync.Mutex
	closed bool
}

func newFakeAdmin(cluster *fakeCluster) *fakeAdmin {
	return &fakeAdmin{cluster: cluster, created: make(map[string]*sarama.TopicDetail)}
}

func (a *fakeAdmin) ListTopics() (map[string]sarama.TopicDetail, error) {
	a.calls = append(a.calls, "list")
	if a.listHold != nil {
		<-a.listHold
	}
	if a.listErr != nil {
		return nil, a.listErr
	}
	a.cluster.mu.Lock()
	defer a.cluster.mu.Unlock()
	out := make(map[string]sarama.TopicDetail)
	for name, partitions := range a.cluster.topics {
		out[name] = sarama.TopicDetail{NumPartitions: int32(len(partitions))}
	}
	if a.deleted != "" && a.lingering > 0 {
		a.lingering--
		out[a.deleted] = sarama.TopicDetail{}
	}
	return out, nil
}

func (a *fakeAdmin) DeleteTopic(topic string) error {
	a.calls = append(a.calls, "delete:"+topic)
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.cluster.mu.Lock()
	defer a.cluster.mu.Unlock()
	if _, ok := a.cluster.topics[topic]; !ok {
		return sarama.ErrUnknownTopicOrPartition
	}
	delete(a.cluster.topics, topic)
	a.deleted = topic
	return nil
}

func (a *fakeAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error {
	a.calls = append(a.calls, "create:"+topic)
	if a.createErr != nil {
		return a.createErr
	}
	a.created[topic] = detail
	a.cluster.mu.Lock()
	defer a.cluster.mu.Unlock()
	a.cluster.topics[topic] = make([]*fakePartition, detail.NumPartitions)
	for i := range a.cluster.topics[topic] {
		a.cluster.topics[topic][i] = &fakePartition{}
	}
	return nil
}

func (a *fakeAdmin) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdmin) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting until %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fixedBackoff waits delay between attempts and gives up after ceiling.
type fixedBackoff struct {
	delay   time.Duration
	ceiling time.Duration
}

func (b fixedBackoff) NewBackOff() backoff.BackOff {
	return (&ExponentialBackoff{
		Initial:    b.delay,
		Multiplier: 1,
		Max:        b.delay,
		Ceiling:    b.ceiling,
	}).NewBackOff()
}

var errBroker = errors.New("broker unreachable")

func testTuning() config.Tuning {
	t := config.DefaultTuning()
	t.PollTimeout = 50 * time.Millisecond
	t.ConsumeTimeout = time.Second
	t.MetadataTimeout = time.Second
	t.AdminTimeout = time.Second
	t.DeleteConfirmTimeout = 200 * time.Millisecond
	t.SettleDelay = time.Millisecond
	return t
}
