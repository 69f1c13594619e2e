package main

import (
	"context"
	"fmt"
	"log"
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

	callback := func(batch []frameprobe.Record) error {
		for _, rec := range batch {
			if rec.Latency == nil {
				continue
			}
			fmt.Printf("%s layer=%s seq=%d latency=%s %s\n",
				rec.Time.Format(time.RFC3339Nano),
				rec.Latency.Layer,
				rec.Latency.Sequence,
				rec.Latency.Latency,
				rec.Latency.Anomaly,
			)
		}
		return nil
	}

	sim, err := frameprobe.NewSimulation(cfg, frameprobe.WithSink(frameprobe.NewCallbackSink("stdout", callback)))
	if err != nil {
		log.Fatalf("build simulation: %v", err)
	}
	if _, err := sim.Run(ctx); err != nil {
		log.Fatalf("simulation error: %v", err)
	}
}
