package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/frameprobe"
)

func main() {
	cfg, err := frameprobe.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sim, err := frameprobe.NewSimulation(cfg)
	if err != nil {
		log.Fatalf("build simulation: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := sim.Run(ctx)
	if err != nil {
		log.Fatalf("simulation exited: %v", err)
	}
	rx := res.Receiver
	fmt.Printf("frames=%d drops=%d mean=%s p99=%s truncated=%v\n", rx.Frames, rx.Drops, rx.Mean, rx.P99, rx.Truncated)
}
