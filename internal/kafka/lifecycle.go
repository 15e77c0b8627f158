package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	"go-kafka-onion/internal/config"
	"go-kafka-onion/internal/models"

	"github.com/IBM/sarama"
)

// Lifecycle deletes and recreates topics. A reset walks through
//
//	capture -> delete -> verify absent (backoff) -> settle -> recreate
//
// and has no rollback: once the delete went through, a failure leaves the
// topic missing and the caller is told so.
type Lifecycle struct {
	resolver       *Resolver
	newAdmin       AdminFactory
	backoff        BackoffPolicy
	opTimeout      time.Duration
	confirmTimeout time.Duration
	settle         time.Duration
}

func NewLifecycle(resolver *Resolver, newAdmin AdminFactory, tuning config.Tuning) *Lifecycle {
	return &Lifecycle{
		resolver:       resolver,
		newAdmin:       newAdmin,
		backoff:        NewExponentialBackoff(tuning.DeleteConfirmTimeout),
		opTimeout:      tuning.AdminTimeout,
		confirmTimeout: tuning.DeleteConfirmTimeout,
		settle:         tuning.SettleDelay,
	}
}

// WithBackoff replaces the policy used while waiting for a deletion.
func (l *Lifecycle) WithBackoff(policy BackoffPolicy) *Lifecycle {
	l.backoff = policy
	return l
}

// Reset empties topic name by deleting it and creating it again with the
// same partition count.
func (l *Lifecycle) Reset(ctx context.Context, name string) error {
	def, err := l.capture(ctx, name)
	if err != nil {
		return err
	}

	admin, err := l.openAdmin(ctx, name)
	if err != nil {
		return err
	}
	defer closeAdmin(admin)

	if err := l.delete(ctx, admin, name); err != nil {
		return err
	}
	if err := l.verifyAbsent(ctx, admin, name); err != nil {
		return err
	}

	// Metadata can report the topic gone before every replica finished the delete.
	log.Printf("[lifecycle] %s: absent, settling for %s", name, l.settle)
	if err := sleep(ctx, l.settle); err != nil {
		return l.recreationFailed(name, err)
	}

	if err := l.recreate(ctx, admin, def); err != nil {
		return l.recreationFailed(name, err)
	}
	log.Printf("[lifecycle] %s: recreated with %d partitions", name, def.PartitionCount)
	return nil
}

// Delete removes topic name. It fails with ErrTopicNotFound without touching
// the cluster when the topic does not exist.
func (l *Lifecycle) Delete(ctx context.Context, name string) error {
	if _, err := l.capture(ctx, name); err != nil {
		return err
	}

	admin, err := l.openAdmin(ctx, name)
	if err != nil {
		return err
	}
	defer closeAdmin(admin)

	return l.delete(ctx, admin, name)
}

func (l *Lifecycle) capture(ctx context.Context, name string) (models.TopicDefinition, error) {
	snapshot, err := l.resolver.Snapshot(ctx, name)
	if err != nil {
		return models.TopicDefinition{}, err
	}
	def := snapshot.Definition()
	log.Printf("[lifecycle] %s: captured %d partitions, %d messages", name, def.PartitionCount, snapshot.TotalMessages)
	return def, nil
}

// openAdmin gives up after opTimeout or when ctx is done. A connection that
// shows up after that is closed.
func (l *Lifecycle) openAdmin(ctx context.Context, name string) (TopicAdmin, error) {
	openCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	admin, err := openWithTimeout(openCtx, func() (TopicAdmin, error) {
		return l.newAdmin(openCtx)
	}, closeAdmin)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: open admin connection: %v", ErrDeletionFailed, name, err)
	}
	return admin, nil
}

func (l *Lifecycle) delete(ctx context.Context, admin TopicAdmin, name string) error {
	_, err := callWithTimeout(ctx, l.opTimeout, func() (struct{}, error) {
		return struct{}{}, admin.DeleteTopic(name)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeletionFailed, name, err)
	}
	log.Printf("[lifecycle] %s: delete accepted", name)
	return nil
}

// verifyAbsent lists all topics rather than describing name, a describe of
// a just deleted topic can auto-create it again. No attempt outlives
// confirmTimeout.
func (l *Lifecycle) verifyAbsent(ctx context.Context, admin TopicAdmin, name string) error {
	verifyCtx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	var last error
	err := retry(verifyCtx, l.backoff, func() error {
		topics, err := callWithTimeout(verifyCtx, l.opTimeout, admin.ListTopics)
		if err != nil {
			last = err
			return err
		}
		if _, ok := topics[name]; ok {
			last = fmt.Errorf("topic %s is still listed", name)
			return last
		}
		return nil
	})
	if err != nil {
		if last != nil && verifyCtx.Err() != nil {
			err = fmt.Errorf("%v (last attempt: %v)", err, last)
		}
		return fmt.Errorf("%w: %s: %v", ErrDeletionNotConfirmed, name, err)
	}
	return nil
}

func (l *Lifecycle) recreate(ctx context.Context, admin TopicAdmin, def models.TopicDefinition) error {
	detail := &sarama.TopicDetail{
		NumPartitions:     def.PartitionCount,
		ReplicationFactor: def.ReplicationFactor,
	}
	_, err := callWithTimeout(ctx, l.opTimeout, func() (struct{}, error) {
		return struct{}{}, admin.CreateTopic(def.Name, detail, false)
	})
	return err
}

func (l *Lifecycle) recreationFailed(name string, cause error) error {
	err := fmt.Errorf("%w: topic %s was deleted and does not exist anymore: %v", ErrRecreationFailed, name, cause)
	log.Printf("[lifecycle] ALERT %v", err)
	return err
}

func closeAdmin(admin TopicAdmin) {
	if err := admin.Close(); err != nil {
		log.Printf("[lifecycle] closing admin connection: %v", err)
	}
}
