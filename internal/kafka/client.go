package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go-kafka-onion/internal/config"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const clientIDPrefix = "kafka-onion"

// MetadataClient is the read-only part of sarama.Client used by the resolver.
type MetadataClient interface {
	RefreshMetadata(topics ...string) error
	Topics() ([]string, error)
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

// TopicAdmin is the part of sarama.ClusterAdmin used by the topic lifecycle.
type TopicAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	DeleteTopic(topic string) error
	Close() error
}

// AdminFactory opens a dedicated admin connection. The caller closes it.
// It returns once ctx is done even if the connection is still being set up.
type AdminFactory func(ctx context.Context) (TopicAdmin, error)

// Cluster owns the shared client used for concurrent reads and knows how to
// open the per-call admin and consumer connections.
type Cluster struct {
	Client  sarama.Client
	cfg     *config.Config
	brokers []string
}

func Connect(cfg *config.Config) (*Cluster, error) {
	if cfg.KafkaDebug {
		sarama.Logger = log.New(os.Stderr, "[sarama] ", log.LstdFlags)
	}

	conf, err := newSaramaConfig(cfg, clientIDPrefix)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers(), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}

	log.Printf("[kafka] connected to %v", cfg.Brokers())
	return &Cluster{
		Client:  client,
		cfg:     cfg,
		brokers: cfg.Brokers(),
	}, nil
}

func (c *Cluster) Close() error {
	return c.Client.Close()
}

// NewAdmin opens a new cluster admin connection.
func (c *Cluster) NewAdmin(ctx context.Context) (TopicAdmin, error) {
	conf, err := newSaramaConfig(c.cfg, clientIDPrefix+"-admin")
	if err != nil {
		return nil, err
	}
	return openWithTimeout(ctx, func() (TopicAdmin, error) {
		admin, err := sarama.NewClusterAdmin(c.brokers, conf)
		if err != nil {
			return nil, err
		}
		return admin, nil
	}, closeAdmin)
}

// NewConsumer opens a consumer identity of its own, bound to groupID.
func (c *Cluster) NewConsumer(ctx context.Context, groupID string) (Consumer, error) {
	conf, err := newSaramaConfig(c.cfg, fmt.Sprintf("%s-%s", clientIDPrefix, uuid.NewString()))
	if err != nil {
		return nil, err
	}
	return openWithTimeout(ctx, func() (Consumer, error) {
		client, err := sarama.NewClient(c.brokers, conf)
		if err != nil {
			return nil, err
		}
		return newSaramaConsumer(client, groupID)
	}, closeConsumer)
}

func newSaramaConfig(cfg *config.Config, clientID string) (*sarama.Config, error) {
	conf := sarama.NewConfig()
	conf.ClientID = clientID

	if cfg.KafkaSSL == "Y" {
		if err := configureSSL(conf, cfg.KafkaCertDir); err != nil {
			return nil, fmt.Errorf("failed to configure SSL: %v", err)
		}
	}

	// Every broker round trip is bounded by the tuning, not by sarama's 30s defaults.
	conf.Net.DialTimeout = cfg.Tuning.MetadataTimeout
	conf.Net.ReadTimeout = cfg.Tuning.BrokerTimeout() + time.Second
	conf.Net.WriteTimeout = cfg.Tuning.BrokerTimeout()

	// Describing a missing topic must never create it.
	conf.Metadata.AllowAutoTopicCreation = false
	conf.Metadata.Timeout = cfg.Tuning.MetadataTimeout

	conf.Admin.Timeout = cfg.Tuning.AdminTimeout

	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Partitioner = sarama.NewManualPartitioner

	conf.Consumer.Return.Errors = true
	conf.Consumer.Offsets.AutoCommit.Enable = true
	conf.Consumer.Offsets.AutoCommit.Interval = 500 * time.Millisecond
	conf.Consumer.MaxWaitTime = 250 * time.Millisecond

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	return conf, nil
}

func configureSSL(config *sarama.Config, certDir string) error {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}

	certPEM, err := os.ReadFile(filepath.Join(certDir, "tls_pem.txt"))
	if err != nil {
		return fmt.Errorf("error reading certificate: %v", err)
	}

	keyPEM, err := os.ReadFile(filepath.Join(certDir, "tls.key"))
	if err != nil {
		return fmt.Errorf("error reading private key: %v", err)
	}

	caCertPEM, err := os.ReadFile(filepath.Join(certDir, "tls_root_pem.txt"))
	if err != nil {
		return fmt.Errorf("error reading CA certificate: %v", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCertPEM) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("error loading certificate and key: %v", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	if len(cert.Certificate) > 0 {
		if pc, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			if len(pc.DNSNames) > 0 {
				tlsConfig.ServerName = pc.DNSNames[0]
			}
		}
	}

	config.Net.TLS.Enable = true
	config.Net.TLS.Config = tlsConfig

	return nil
}

// callWithTimeout runs a blocking broker call and gives up when timeout
// elapses or ctx is done, whichever comes first.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// openWithTimeout runs a blocking connect and returns when ctx is done. A
// handle that shows up after the caller gave up is released.
func openWithTimeout[T any](ctx context.Context, open func() (T, error), release func(T)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := open()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				release(r.val)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}
