package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"go-kafka-onion/internal/config"
	"go-kafka-onion/internal/kafka"
)

func main() {
	topic := flag.String("topic", "plans", "topic to produce to")
	partition := flag.Int("partition", 0, "partition to produce to")
	count := flag.Int("count", 1, "number of messages")
	kind := flag.String("kind", "plan", "payload kind: plan, release or text")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	generate, ok := generators[*kind]
	if !ok {
		log.Fatalf("Unknown payload kind: %s", *kind)
	}

	cluster, err := kafka.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Kafka: %v", err)
	}
	defer cluster.Close()

	producer, err := kafka.NewProducer(cluster.Client, cfg.Tuning.ProduceTimeout)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	ctx := context.Background()
	for i := 0; i < *count; i++ {
		payload, err := generate()
		if err != nil {
			log.Fatalf("Failed to build payload: %v", err)
		}

		res, err := producer.Produce(ctx, *topic, int32(*partition), payload)
		if err != nil {
			log.Fatalf("Failed to send message: %v", err)
		}
		fmt.Printf("Message sent to partition %d at offset %d\n", res.Partition, res.Offset)
	}
}
