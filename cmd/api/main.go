package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-kafka-onion/internal/config"
	"go-kafka-onion/internal/handlers"
	"go-kafka-onion/internal/kafka"
	"go-kafka-onion/internal/server"
	"go-kafka-onion/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cluster, err := kafka.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Kafka: %v", err)
	}

	producer, err := kafka.NewProducer(cluster.Client, cfg.Tuning.ProduceTimeout)
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}

	resolver := kafka.NewResolver(cluster.Client, cfg.Tuning.MetadataTimeout, cfg.Tuning.ResolverConcurrency)
	engine := kafka.NewEngine(resolver, cluster.NewConsumer, cfg.Tuning, cfg.DefaultGroupID)
	lifecycle := kafka.NewLifecycle(resolver, cluster.NewAdmin, cfg.Tuning)

	pool := worker.NewPool(cfg.Workers)
	srv := server.NewServer(handlers.New(resolver, engine, lifecycle, producer, pool))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%s", cfg.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("[api] listening on :%s", cfg.Port)

	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Tuning.ConsumeTimeout+2*time.Second)
	defer cancel()

	// Stop taking requests first, then drain the workers and the broker connections.
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	pool.Stop()

	if err := producer.Close(); err != nil {
		log.Printf("Error closing producer: %v", err)
	}
	if err := cluster.Close(); err != nil {
		log.Printf("Error closing Kafka client: %v", err)
	}
}
