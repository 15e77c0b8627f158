package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"go-kafka-onion/internal/config"
	"go-kafka-onion/internal/kafka"
	"go-kafka-onion/internal/models"
)

func main() {
	topic := flag.String("topic", "", "topic to describe, all topics when empty")
	offsets := flag.String("offsets", "", "read a window from partition;offset,... of -topic")
	latest := flag.Bool("latest", false, "read the latest window of -topic")
	before := flag.Bool("before", false, "read the page before -offsets instead of the one starting there")
	group := flag.String("group", "", "consumer group, KAFKA_GROUP_ID when empty")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cluster, err := kafka.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Kafka: %v", err)
	}
	defer cluster.Close()

	resolver := kafka.NewResolver(cluster.Client, cfg.Tuning.MetadataTimeout, cfg.Tuning.ResolverConcurrency)
	engine := kafka.NewEngine(resolver, cluster.NewConsumer, cfg.Tuning, cfg.DefaultGroupID)

	ctx := context.Background()
	var out any
	switch {
	case *offsets != "" || *latest:
		if *topic == "" {
			log.Fatal("-topic is required to read messages")
		}
		if *latest {
			out, err = engine.ConsumeLatest(ctx, *topic, *group)
			break
		}
		req, perr := models.ParseOffsetRequest(*offsets)
		if perr != nil {
			log.Fatalf("Bad offsets: %v", perr)
		}
		if *before {
			out, err = engine.ConsumeBefore(ctx, *topic, *group, req)
			break
		}
		out, err = engine.Consume(ctx, *topic, *group, req)
	default:
		out, err = resolver.Resolve(ctx, *topic)
	}
	if err != nil {
		log.Fatalf("%s: %v", kafka.ErrorKind(err), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
