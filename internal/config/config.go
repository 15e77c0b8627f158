package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	KafkaSSL       string
	AppMode        string
	KafkaBrokers   string
	KafkaCertDir   string
	KafkaDebug     bool
	DefaultGroupID string
	Port           string
	Workers        int

	Tuning Tuning
}

// Tuning holds the knobs of the consumption engine and the topic lifecycle.
// Values can be overridden by the YAML file named in CONFIG_FILE.
type Tuning struct {
	WindowSize           int64         `yaml:"window_size"`
	PollTimeout          time.Duration `yaml:"poll_timeout"`
	ConsumeTimeout       time.Duration `yaml:"consume_timeout"`
	MetadataTimeout      time.Duration `yaml:"metadata_timeout"`
	AdminTimeout         time.Duration `yaml:"admin_timeout"`
	ProduceTimeout       time.Duration `yaml:"produce_timeout"`
	DeleteConfirmTimeout time.Duration `yaml:"delete_confirm_timeout"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	ResolverConcurrency  int           `yaml:"resolver_concurrency"`
}

func DefaultTuning() Tuning {
	return Tuning{
		WindowSize:           20,
		PollTimeout:          time.Second,
		ConsumeTimeout:       10 * time.Second,
		MetadataTimeout:      3 * time.Second,
		AdminTimeout:         3 * time.Second,
		ProduceTimeout:       3 * time.Second,
		DeleteConfirmTimeout: 5 * time.Second,
		SettleDelay:          500 * time.Millisecond,
		ResolverConcurrency:  8,
	}
}

func LoadConfig() (*Config, error) {
	// .env is optional, the process environment wins anyway
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		KafkaSSL:       os.Getenv("KAFKA_SSL"),
		AppMode:        os.Getenv("APP_MODE"),
		KafkaBrokers:   getEnv("KAFKA_BROKER_LIST", getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaCertDir:   os.Getenv("KAFKA_CERT_DIR"),
		KafkaDebug:     os.Getenv("KAFKA_DEBUG") == "Y",
		DefaultGroupID: getEnv("KAFKA_GROUP_ID", "kafka-onion"),
		Port:           getEnv("API_PORT", getEnv("PORT", "8080")),
		Workers:        getEnvInt("WORKERS", 3),
		Tuning:         DefaultTuning(),
	}

	if cfg.KafkaSSL == "Y" && cfg.KafkaCertDir == "" {
		if cfg.AppMode == "local" {
			cfg.KafkaCertDir = "conf/secrets/kafka"
		} else {
			cfg.KafkaCertDir = "/vault/secrets/kafka"
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Tuning.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("[config] loaded: brokers=%s port=%s workers=%d window=%d",
		cfg.KafkaBrokers, cfg.Port, cfg.Workers, cfg.Tuning.WindowSize)
	return cfg, nil
}

// Brokers splits the comma separated broker list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if len(c.Brokers()) == 0 {
		return errors.New("kafka broker list is empty")
	}
	if c.Port == "" {
		return errors.New("api port is empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("incorrect amount of workers: %d", c.Workers)
	}
	return c.Tuning.Validate()
}

// LoadFile overlays the tuning values present in a YAML file.
func (t *Tuning) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, t); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (t Tuning) Validate() error {
	if t.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", t.WindowSize)
	}
	if t.PollTimeout <= 0 || t.ConsumeTimeout <= 0 {
		return errors.New("consume timeouts must be positive")
	}
	if t.PollTimeout > t.ConsumeTimeout {
		return errors.New("poll timeout exceeds consume timeout")
	}
	if t.MetadataTimeout <= 0 || t.AdminTimeout <= 0 || t.ProduceTimeout <= 0 {
		return errors.New("broker timeouts must be positive")
	}
	if t.DeleteConfirmTimeout <= 0 {
		return errors.New("delete confirm timeout must be positive")
	}
	if t.SettleDelay < 0 {
		return errors.New("settle delay must not be negative")
	}
	if t.ResolverConcurrency <= 0 {
		return fmt.Errorf("incorrect resolver concurrency: %d", t.ResolverConcurrency)
	}
	return nil
}

// BrokerTimeout is the longest a single request to a broker may take.
func (t Tuning) BrokerTimeout() time.Duration {
	return max(t.MetadataTimeout, t.AdminTimeout, t.ProduceTimeout)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("[config] ignoring %s=%q: %v", key, val, err)
			return def
		}
		return n
	}
	return def
}
