package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ghalamif/frameprobe"
)

func main() {
	cfg, err := frameprobe.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, batches, closeBatches := frameprobe.NewChannelSink("fanout", 32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanoutWorker("dashboard", batches)
	}()

	sim, err := frameprobe.NewSimulation(cfg, frameprobe.WithSink(sink))
	if err != nil {
		log.Fatalf("build simulation: %v", err)
	}
	_, err = sim.Run(ctx)
	closeBatches()
	wg.Wait()
	if err != nil {
		log.Fatalf("simulation error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []frameprobe.Record) {
	for batch := range batches {
		var latencies int
		for _, rec := range batch {
			if rec.Latency != nil {
				latencies++
			}
		}
		fmt.Printf("[%s] %d records (%d latency) at %s\n", name, len(batch), latencies, time.Now().Format(time.RFC3339))
	}
}
